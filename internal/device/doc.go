// Package device holds the terrarium's actuator state and the controller
// that changes it.
//
// The board drives three actuators: an LED grow-light matrix (colour and
// brightness), a ventilation fan and a watering pump. Their state lives in
// a Store and only the Controller can change it, after the board has
// acknowledged the command.
//
// # Architecture
//
//	┌──────────────┐  intents   ┌──────────────────┐  Exchange  ┌──────────────┐
//	│ API / MQTT / │───────────▶│    Controller    │───────────▶│ link.Transport│
//	│ automation   │            │  (controller.go) │◀───────────│  (serial)     │
//	└──────────────┘            │ • command table  │    ack     └──────────────┘
//	                            │ • ack check      │
//	                            │ • pump timers    │──┐ Scheduler (scheduler.go)
//	                            └────────┬─────────┘  │ keyed, cancellable
//	                                     │ commit     │
//	                                     ▼            │
//	                            ┌──────────────────┐  │
//	                            │      Store       │◀─┘ timer-driven pump off
//	                            │    (store.go)    │
//	                            │ matrix │ fan │   │──▶ Subscribe(Change)
//	                            │ pump │ targets │ │    WebSocket, MQTT, history
//	                            │ latest frame     │
//	                            └──────────────────┘
//
// # Locking
//
// Each Store partition has its own lock, held only while copying a value.
// No lock is held across a link exchange. Subscribers run synchronously on
// the committing goroutine after the lock is released.
//
// # Pump Auto-Off
//
// TriggerPump switches the pump on and schedules the off command under the
// "pump" key. By default a new trigger supersedes the pending off
// (cancel-and-restart). ControllerConfig.PumpSupersede=false keeps one
// independent timer per trigger, so the earliest one switches the pump off.
//
// # Usage
//
//	store, _ := device.NewStore(device.DefaultAutoControlConfig())
//	ctrl := device.NewController(transport, store, device.ControllerConfig{})
//	ctrl.SetLogger(log)
//
//	ctx = device.WithSource(ctx, device.SourceAPI)
//	if err := ctrl.TriggerPump(ctx, 3*time.Second); err != nil {
//	    // state is unchanged
//	}
package device
