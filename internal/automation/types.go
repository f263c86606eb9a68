package automation

import (
	"fmt"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
)

// Action is the controller operation an intent asks for.
type Action string

// Intent actions.
const (
	ActionSetBrightness Action = "set_brightness"
	ActionSetMatrix     Action = "set_matrix"
	ActionSetFan        Action = "set_fan"
	ActionTriggerPump   Action = "trigger_pump"
)

// Intent is one actuator change the control loop wants.
type Intent struct {
	Action Action `json:"action"`

	// On is used by set_matrix and set_fan.
	On bool `json:"on,omitempty"`

	// Level is used by set_brightness.
	Level int `json:"level,omitempty"`

	// Color is used by set_matrix when switching on. Nil keeps the stored colour.
	Color *device.RGB `json:"color,omitempty"`

	// Duration is used by trigger_pump.
	Duration time.Duration `json:"duration,omitempty"`

	// Reason is a human-readable explanation for logs.
	Reason string `json:"reason"`
}

// String renders the intent as a call, e.g. set_fan(on).
func (i Intent) String() string {
	switch i.Action {
	case ActionSetBrightness:
		return fmt.Sprintf("%s(%d)", i.Action, i.Level)
	case ActionSetMatrix, ActionSetFan:
		if i.On {
			return fmt.Sprintf("%s(on)", i.Action)
		}
		return fmt.Sprintf("%s(off)", i.Action)
	case ActionTriggerPump:
		return fmt.Sprintf("%s(%s)", i.Action, i.Duration)
	}
	return string(i.Action)
}

// Result is the outcome of executing one intent.
type Result struct {
	Intent Intent `json:"intent"`
	Err    error  `json:"-"`
}

// OK reports whether the intent was carried out.
func (r Result) OK() bool {
	return r.Err == nil
}
