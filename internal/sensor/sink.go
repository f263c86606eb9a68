package sensor

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/terrarium-core/internal/device"
)

// Sink accepts finished readings for persistence.
type Sink interface {
	SaveReading(ctx context.Context, reading device.Reading) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, reading device.Reading) error

// SaveReading calls f.
func (f SinkFunc) SaveReading(ctx context.Context, reading device.Reading) error {
	return f(ctx, reading)
}

// NamedSink labels a sink for error messages.
type NamedSink struct {
	Name string
	Sink Sink
}

// MultiSink writes every reading to all of its sinks, in order. One failing
// sink does not stop the others; the failures are joined.
type MultiSink []NamedSink

// SaveReading writes to every sink.
func (m MultiSink) SaveReading(ctx context.Context, reading device.Reading) error {
	var errs []error
	for _, s := range m {
		if err := s.Sink.SaveReading(ctx, reading); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
