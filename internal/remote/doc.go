// Package remote connects the terrarium to an MQTT broker.
//
// Publisher mirrors the state store: retained actuator state on
// terrarium/{site}/state/{matrix|fan|pump}, the auto-control configuration
// on terrarium/{site}/auto, and every reading on terrarium/{site}/reading.
//
// CommandBridge accepts commands on terrarium/{site}/command/{target}:
//
//	{"id": "c-1", "command": "trigger", "parameters": {"duration": 5}, "source": "phone"}
//
// and answers each with an acknowledgement on terrarium/{site}/ack/{target}:
//
//	{"command_id": "c-1", "status": "completed", ...}
//
// Targets and commands:
//
//   - matrix: on [r,g,b], off, color r,g,b, preset name, brightness level
//   - fan: on, off
//   - pump: on and trigger [duration seconds] (both timed), off
//   - auto: enable, disable, targets light,temp,humid,temp_tolerance,humid_tolerance
//
// Changes made through the bridge carry the "mqtt" source.
package remote
