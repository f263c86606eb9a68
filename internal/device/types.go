package device

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RGB is a matrix colour.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// White is the colour the matrix starts with and the one auto control uses.
var White = RGB{R: 255, G: 255, B: 255}

// String formats the colour the way the firmware expects it: "r,g,b".
func (c RGB) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}

// MatrixState is the LED grow-light matrix.
type MatrixState struct {
	On         bool  `json:"on"`
	Color      RGB   `json:"color"`
	Brightness uint8 `json:"brightness"`
}

// FanState is the ventilation fan.
type FanState struct {
	On bool `json:"on"`
}

// PumpState is the watering pump.
type PumpState struct {
	On bool `json:"on"`
}

// ActuatorState is a snapshot of every actuator.
type ActuatorState struct {
	Matrix MatrixState `json:"matrix"`
	Fan    FanState    `json:"fan"`
	Pump   PumpState   `json:"pump"`
}

// DefaultBrightness is the firmware's power-on brightness.
const DefaultBrightness uint8 = 15

// InitialActuatorState is what the board looks like after a reset.
func InitialActuatorState() ActuatorState {
	return ActuatorState{
		Matrix: MatrixState{On: false, Color: White, Brightness: DefaultBrightness},
	}
}

// Actuator names an output device.
type Actuator string

// Actuators.
const (
	ActuatorMatrix Actuator = "matrix"
	ActuatorFan    Actuator = "fan"
	ActuatorPump   Actuator = "pump"
)

// ParseActuator accepts an actuator name in any case.
func ParseActuator(s string) (Actuator, bool) {
	switch a := Actuator(strings.ToLower(s)); a {
	case ActuatorMatrix, ActuatorFan, ActuatorPump:
		return a, true
	}
	return "", false
}

// Source records what caused a state change.
type Source string

// Change sources.
const (
	SourceAPI    Source = "api"
	SourceAuto   Source = "auto"
	SourceMQTT   Source = "mqtt"
	SourceTimer  Source = "timer"
	SourceSystem Source = "system"
)

type sourceKey struct{}

// WithSource returns a context carrying the change source.
func WithSource(ctx context.Context, src Source) context.Context {
	return context.WithValue(ctx, sourceKey{}, src)
}

// SourceFrom returns the source carried by ctx, or SourceSystem.
func SourceFrom(ctx context.Context) Source {
	if src, ok := ctx.Value(sourceKey{}).(Source); ok && src != "" {
		return src
	}
	return SourceSystem
}

// AutoControlConfig holds the closed-loop control targets.
type AutoControlConfig struct {
	Enabled        bool    `json:"enabled"`
	TargetLight    int     `json:"target_light"`
	TargetTemp     float64 `json:"target_temp"`
	TargetHumid    float64 `json:"target_humid"`
	TempTolerance  float64 `json:"temp_tolerance"`
	HumidTolerance float64 `json:"humid_tolerance"`
}

// DefaultAutoControlConfig returns the factory targets, disabled.
func DefaultAutoControlConfig() AutoControlConfig {
	return AutoControlConfig{
		Enabled:        false,
		TargetLight:    500,
		TargetTemp:     25.0,
		TargetHumid:    60.0,
		TempTolerance:  2.0,
		HumidTolerance: 10.0,
	}
}

// Validate checks the targets are in range and the tolerances are finite
// and not negative.
func (c AutoControlConfig) Validate() error {
	var errs []string

	if c.TargetLight < 0 || c.TargetLight > MaxLight {
		errs = append(errs, fmt.Sprintf("target_light %d outside 0..%d", c.TargetLight, MaxLight))
	}
	if !finite(c.TargetTemp) || c.TargetTemp < -20 || c.TargetTemp > 60 {
		errs = append(errs, fmt.Sprintf("target_temp %v outside -20..60", c.TargetTemp))
	}
	if !finite(c.TargetHumid) || c.TargetHumid < 0 || c.TargetHumid > 100 {
		errs = append(errs, fmt.Sprintf("target_humid %v outside 0..100", c.TargetHumid))
	}
	if !finite(c.TempTolerance) || c.TempTolerance < 0 {
		errs = append(errs, fmt.Sprintf("temp_tolerance %v must be finite and >= 0", c.TempTolerance))
	}
	if !finite(c.HumidTolerance) || c.HumidTolerance < 0 {
		errs = append(errs, fmt.Sprintf("humid_tolerance %v must be finite and >= 0", c.HumidTolerance))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// TargetsPatch is a partial update of the control targets. Nil fields keep
// their current value.
type TargetsPatch struct {
	Light          *int     `json:"light,omitempty"`
	Temp           *float64 `json:"temp,omitempty"`
	Humid          *float64 `json:"humid,omitempty"`
	TempTolerance  *float64 `json:"temp_tolerance,omitempty"`
	HumidTolerance *float64 `json:"humid_tolerance,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TargetsPatch) Empty() bool {
	return p.Light == nil && p.Temp == nil && p.Humid == nil &&
		p.TempTolerance == nil && p.HumidTolerance == nil
}

// Apply returns cfg with the patch applied. The result is not validated.
func (p TargetsPatch) Apply(cfg AutoControlConfig) AutoControlConfig {
	if p.Light != nil {
		cfg.TargetLight = *p.Light
	}
	if p.Temp != nil {
		cfg.TargetTemp = *p.Temp
	}
	if p.Humid != nil {
		cfg.TargetHumid = *p.Humid
	}
	if p.TempTolerance != nil {
		cfg.TempTolerance = *p.TempTolerance
	}
	if p.HumidTolerance != nil {
		cfg.HumidTolerance = *p.HumidTolerance
	}
	return cfg
}

// MaxLight is the top of the light sensor's ADC range.
const MaxLight = 1023

// Field is a bit set of the measurements present in a frame.
type Field uint8

// Frame fields.
const (
	FieldMoisture Field = 1 << iota
	FieldLight
	FieldTemperature
	FieldHumidity
)

// SensorFrame is one parsed READ reply. It is never modified after parsing.
type SensorFrame struct {
	Moisture    int
	Light       int
	Temperature float64
	Humidity    float64
	CapturedAt  time.Time
	Fields      Field
	Raw         json.RawMessage
}

// Has reports whether every field in f was present in the reply.
func (s SensorFrame) Has(f Field) bool {
	return s.Fields&f == f
}

// MarshalJSON writes only the measurements the board reported.
func (s SensorFrame) MarshalJSON() ([]byte, error) {
	return json.Marshal(NewReadingWithID("", s))
}

// Reading is the persisted form of a frame.
type Reading struct {
	ID          string          `json:"id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Moisture    *int            `json:"moisture,omitempty"`
	Light       *int            `json:"light,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Humidity    *float64        `json:"humidity,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// NewReading converts a frame into a reading with a fresh UUID.
func NewReading(frame SensorFrame) Reading {
	return NewReadingWithID(uuid.NewString(), frame)
}

// NewReadingWithID converts a frame into a reading with the given ID.
func NewReadingWithID(id string, frame SensorFrame) Reading {
	r := Reading{
		ID:        id,
		Timestamp: frame.CapturedAt.UTC(),
		Raw:       frame.Raw,
	}
	if frame.Has(FieldMoisture) {
		v := frame.Moisture
		r.Moisture = &v
	}
	if frame.Has(FieldLight) {
		v := frame.Light
		r.Light = &v
	}
	if frame.Has(FieldTemperature) {
		v := frame.Temperature
		r.Temperature = &v
	}
	if frame.Has(FieldHumidity) {
		v := frame.Humidity
		r.Humidity = &v
	}
	return r
}

// Fields returns the measurements present as name/value pairs, keyed the
// way time-series sinks label them.
func (r Reading) Fields() map[string]any {
	fields := make(map[string]any, 4)
	if r.Moisture != nil {
		fields["moisture"] = *r.Moisture
	}
	if r.Light != nil {
		fields["light"] = *r.Light
	}
	if r.Temperature != nil {
		fields["temperature"] = *r.Temperature
	}
	if r.Humidity != nil {
		fields["humidity"] = *r.Humidity
	}
	return fields
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
