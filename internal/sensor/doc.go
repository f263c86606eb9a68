// Package sensor polls the terrarium board for sensor frames.
//
// Every interval the Poller sends READ, parses the JSON reply into a
// device.SensorFrame, records it in the store, hands a device.Reading to
// the persistence Sink and runs auto control.
//
//	┌─────────┐ READ   ┌──────────────┐ frame  ┌──────────────┐
//	│ Poller  │───────▶│ link.Transport│──────▶│ ParseFrame   │
//	│ (ticker)│        └──────────────┘        └──────┬───────┘
//	└─────────┘                                       │
//	                 ┌──────────────┬─────────────────┼──────────────┐
//	                 ▼              ▼                 ▼              │
//	          device.Store    Sink (goroutine)   AutoControl.Run    │
//	          RecordFrame     SQLite/Influx/MQTT  (if enabled)      │
//
// Failures never stop the loop: a broken link is reconnected at the start of
// the next cycle, a bad frame is logged and dropped, and a sink failure is
// logged and counted without retry.
//
// Usage:
//
//	poller := sensor.NewPoller(transport, store, sinks, engine, sensor.Config{
//	    Interval: 3 * time.Minute,
//	})
//	poller.SetLogger(log)
//	if err := poller.Start(ctx); err != nil {
//	    return err
//	}
//	defer poller.Stop()
package sensor
