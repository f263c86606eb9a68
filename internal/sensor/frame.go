package sensor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
)

// Accepted ranges for each measurement.
const (
	MaxMoisture    = 1023
	MinTemperature = -40.0
	MaxTemperature = 80.0
)

// fieldAliases maps upper-cased firmware keys to frame fields.
var fieldAliases = map[string]device.Field{
	"HW038":       device.FieldMoisture,
	"MOISTURE":    device.FieldMoisture,
	"SOIL":        device.FieldMoisture,
	"LIGHT":       device.FieldLight,
	"TEMP":        device.FieldTemperature,
	"TEMPERATURE": device.FieldTemperature,
	"HUMID":       device.FieldHumidity,
	"HUMIDITY":    device.FieldHumidity,
}

// ParseFrame turns a READ reply into a sensor frame.
//
// The reply must be a JSON object. Keys are matched case-insensitively
// (HW038/MOISTURE/SOIL, LIGHT, TEMP/TEMPERATURE, HUMID/HUMIDITY); unknown
// keys are kept in Raw only. A null value counts as absent. At least one
// measurement must be present and every present one must be a finite
// number in range.
//
// Parameters:
//   - line: The trimmed reply line
//   - at: When the reply was received
//
// Returns:
//   - device.SensorFrame: The parsed frame
//   - error: ErrInvalidFrame describing the first problem found
func ParseFrame(line string, at time.Time) (device.SensorFrame, error) {
	raw := []byte(strings.TrimSpace(line))
	if len(raw) == 0 || raw[0] != '{' {
		return device.SensorFrame{}, fmt.Errorf("%w: not a JSON object: %q", ErrInvalidFrame, truncate(line))
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return device.SensorFrame{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if dec.More() {
		return device.SensorFrame{}, fmt.Errorf("%w: trailing data after object", ErrInvalidFrame)
	}

	frame := device.SensorFrame{CapturedAt: at, Raw: json.RawMessage(raw)}
	for key, value := range values {
		field, ok := fieldAliases[strings.ToUpper(key)]
		if !ok || value == nil {
			continue
		}
		num, ok := value.(json.Number)
		if !ok {
			return device.SensorFrame{}, fmt.Errorf("%w: %s is not a number", ErrInvalidFrame, key)
		}
		v, err := num.Float64()
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return device.SensorFrame{}, fmt.Errorf("%w: %s=%s is not finite", ErrInvalidFrame, key, num)
		}
		if err := setField(&frame, field, v); err != nil {
			return device.SensorFrame{}, fmt.Errorf("%w: %s: %w", ErrInvalidFrame, key, err)
		}
	}

	if frame.Fields == 0 {
		return device.SensorFrame{}, fmt.Errorf("%w: no known measurements", ErrInvalidFrame)
	}
	return frame, nil
}

func setField(frame *device.SensorFrame, field device.Field, v float64) error {
	switch field {
	case device.FieldMoisture:
		n := int(math.Round(v))
		if n < 0 || n > MaxMoisture {
			return fmt.Errorf("moisture %v outside 0..%d", v, MaxMoisture)
		}
		frame.Moisture = n
	case device.FieldLight:
		n := int(math.Round(v))
		if n < 0 || n > device.MaxLight {
			return fmt.Errorf("light %v outside 0..%d", v, device.MaxLight)
		}
		frame.Light = n
	case device.FieldTemperature:
		if v < MinTemperature || v > MaxTemperature {
			return fmt.Errorf("temperature %v outside %v..%v", v, MinTemperature, MaxTemperature)
		}
		frame.Temperature = v
	case device.FieldHumidity:
		if v < 0 || v > 100 {
			return fmt.Errorf("humidity %v outside 0..100", v)
		}
		frame.Humidity = v
	}
	frame.Fields |= field
	return nil
}

func truncate(s string) string {
	const limit = 64
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
