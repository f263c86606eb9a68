package automation

import (
	"fmt"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
)

// Light rule brightness bounds.
const (
	MinBrightness     = 50
	MaxBrightness     = 255
	BrightnessDivisor = 4
)

// PumpPulse is how long the humidity rule waters for.
const PumpPulse = 3 * time.Second

// Decide computes the intents for one sensor frame.
//
// Rules run in a fixed order: light, temperature, humidity. They are
// independent and may produce intents for the same actuator: every rule
// reads state as passed in, so a hot and humid frame yields two fan-on
// intents. A rule whose input was missing from the frame is skipped.
//
// Decide is pure: it reads nothing but its arguments.
func Decide(frame device.SensorFrame, cfg device.AutoControlConfig, state device.ActuatorState) []Intent {
	if !cfg.Enabled {
		return nil
	}

	d := decision{state: state}
	if frame.Has(device.FieldLight) {
		d.light(frame.Light, cfg.TargetLight)
	}
	if frame.Has(device.FieldTemperature) {
		d.temperature(frame.Temperature, cfg.TargetTemp, cfg.TempTolerance)
	}
	if frame.Has(device.FieldHumidity) {
		d.humidity(frame.Humidity, cfg.TargetHumid, cfg.HumidTolerance)
	}
	return d.intents
}

// LightBrightness returns the matrix brightness for a light deficit.
func LightBrightness(light, target int) int {
	level := (target - light) / BrightnessDivisor
	switch {
	case level < MinBrightness:
		return MinBrightness
	case level > MaxBrightness:
		return MaxBrightness
	}
	return level
}

type decision struct {
	state   device.ActuatorState
	intents []Intent
}

func (d *decision) light(light, target int) {
	if light < target {
		level := LightBrightness(light, target)
		d.add(Intent{
			Action: ActionSetBrightness,
			Level:  level,
			Reason: fmt.Sprintf("light %d below target %d", light, target),
		})
		if !d.state.Matrix.On {
			white := device.White
			d.add(Intent{
				Action: ActionSetMatrix,
				On:     true,
				Color:  &white,
				Reason: "matrix off while light below target",
			})
		}
		return
	}

	if d.state.Matrix.On {
		d.add(Intent{
			Action: ActionSetMatrix,
			On:     false,
			Reason: fmt.Sprintf("light %d at or above target %d", light, target),
		})
	}
}

func (d *decision) temperature(temp, target, tolerance float64) {
	switch {
	case temp > target+tolerance && !d.state.Fan.On:
		d.add(Intent{
			Action: ActionSetFan,
			On:     true,
			Reason: fmt.Sprintf("temperature %.1f above %.1f", temp, target+tolerance),
		})
	case temp < target-tolerance && d.state.Fan.On:
		d.add(Intent{
			Action: ActionSetFan,
			On:     false,
			Reason: fmt.Sprintf("temperature %.1f below %.1f", temp, target-tolerance),
		})
	}
}

func (d *decision) humidity(humid, target, tolerance float64) {
	switch {
	case humid < target-tolerance:
		d.add(Intent{
			Action:   ActionTriggerPump,
			Duration: PumpPulse,
			Reason:   fmt.Sprintf("humidity %.1f below %.1f", humid, target-tolerance),
		})
	case humid > target+tolerance && !d.state.Fan.On:
		d.add(Intent{
			Action: ActionSetFan,
			On:     true,
			Reason: fmt.Sprintf("humidity %.1f above %.1f", humid, target+tolerance),
		})
	}
}

func (d *decision) add(i Intent) {
	d.intents = append(d.intents, i)
}
