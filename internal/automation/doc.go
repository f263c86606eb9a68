// Package automation provides the closed-loop auto-control engine.
//
// Each sensor frame is checked against the control targets and turned into
// an ordered list of intents for the device controller.
//
// Architecture:
//
//	┌────────────────────────────────────────────────────────┐
//	│                   Engine (engine.go)                    │
//	│  ┌──────────────────────────────────────────────────┐  │
//	│  │  Decide (decide.go), pure                         │  │
//	│  │  1. disabled → nothing                            │  │
//	│  │  2. light below target → brightness, matrix on    │  │
//	│  │     light at/above target → matrix off            │  │
//	│  │  3. temperature outside band → fan on/off         │  │
//	│  │  4. humidity low → pump 3s, high → fan on         │  │
//	│  └──────────────────────────────────────────────────┘  │
//	│        │ []Intent                                       │
//	│        ▼                                                │
//	│  Executor (device.Controller), one intent at a time    │
//	└────────────────────────────────────────────────────────┘
//
// # Hysteresis
//
// The fan only changes when temperature leaves the band
// [target-tolerance, target+tolerance]. Inside the band no fan intent is
// produced whatever the fan is doing.
//
// # Key Types
//
//   - Intent: One wanted actuator change with a reason
//   - Result: Intent plus the error from executing it
//   - Engine: Runs Decide and executes the intents
//
// # Usage
//
//	engine := automation.NewEngine(controller, log)
//	results := engine.Run(ctx, frame, store.AutoControl(), store.Actuators())
package automation
