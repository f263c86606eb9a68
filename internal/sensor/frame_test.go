package sensor

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
)

func TestParseFrame(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		line       string
		wantFields device.Field
		check      func(t *testing.T, f device.SensorFrame)
	}{
		{
			name:       "firmware keys",
			line:       `{"HW038":512,"LIGHT":200,"TEMP":24.5,"HUMID":55.0}`,
			wantFields: device.FieldMoisture | device.FieldLight | device.FieldTemperature | device.FieldHumidity,
			check: func(t *testing.T, f device.SensorFrame) {
				if f.Moisture != 512 || f.Light != 200 || f.Temperature != 24.5 || f.Humidity != 55 {
					t.Errorf("frame = %+v", f)
				}
			},
		},
		{
			name:       "lower case aliases",
			line:       `{"moisture":300,"light":10,"temperature":19.2,"humidity":70}`,
			wantFields: device.FieldMoisture | device.FieldLight | device.FieldTemperature | device.FieldHumidity,
		},
		{
			name:       "partial frame",
			line:       `{"TEMP":22.0,"HUMID":null,"STATUS":"ok"}`,
			wantFields: device.FieldTemperature,
		},
		{
			name:       "fractional light rounds",
			line:       `{"LIGHT":199.6}`,
			wantFields: device.FieldLight,
			check: func(t *testing.T, f device.SensorFrame) {
				if f.Light != 200 {
					t.Errorf("Light = %d, want 200", f.Light)
				}
			},
		},
		{
			name:       "surrounding whitespace",
			line:       "  {\"LIGHT\":5}\r",
			wantFields: device.FieldLight,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFrame(tt.line, at)
			if err != nil {
				t.Fatalf("ParseFrame() error = %v", err)
			}
			if f.Fields != tt.wantFields {
				t.Errorf("Fields = %b, want %b", f.Fields, tt.wantFields)
			}
			if !f.CapturedAt.Equal(at) {
				t.Errorf("CapturedAt = %v, want %v", f.CapturedAt, at)
			}
			if len(f.Raw) == 0 {
				t.Error("Raw is empty")
			}
			if tt.check != nil {
				tt.check(t, f)
			}
		})
	}
}

func TestParseFrame_Invalid(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"ack instead of data", "OK:FAN_ON"},
		{"array", `[1,2,3]`},
		{"truncated", `{"TEMP":24.`},
		{"trailing data", `{"TEMP":24}{"TEMP":25}`},
		{"no known fields", `{"STATUS":"ok"}`},
		{"string value", `{"TEMP":"24.5"}`},
		{"light out of range", `{"LIGHT":2048}`},
		{"negative moisture", `{"HW038":-1}`},
		{"humidity over 100", `{"HUMID":101}`},
		{"temperature too high", `{"TEMP":150}`},
		{"nan", `{"TEMP":NaN}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFrame(tt.line, time.Now()); !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("ParseFrame(%q) error = %v, want ErrInvalidFrame", tt.line, err)
			}
		})
	}
}
