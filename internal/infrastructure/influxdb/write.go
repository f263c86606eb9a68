package influxdb

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementReading  = "terrarium_reading"
	MeasurementActuator = "terrarium_actuator"
)

// WriteReading writes one sensor reading and waits for the server to accept
// it.
//
// Parameters:
//   - ctx: Bounds the HTTP write
//   - fields: Measurements present in the reading (name → value)
//   - timestamp: When the reading was captured
//
// Returns:
//   - error: ErrNotConnected, ErrWriteFailed wrapping the server error, or
//     nil when there is nothing to write
func (c *Client) WriteReading(ctx context.Context, fields map[string]any, timestamp time.Time) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if len(fields) == 0 {
		return nil
	}

	point := write.NewPoint(MeasurementReading, nil, fields, timestamp)
	if err := c.blocking.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// WriteActuatorState records an actuator change. The write is non-blocking;
// failures arrive through the SetOnError callback.
//
// Parameters:
//   - actuator: matrix, fan or pump
//   - source: What caused the change (api, auto, mqtt, timer, system)
//   - fields: The new state, e.g. {"on": true, "brightness": 75}
//   - timestamp: When the change was committed
func (c *Client) WriteActuatorState(actuator, source string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		MeasurementActuator,
		map[string]string{"actuator": actuator, "source": source},
		fields,
		timestamp,
	)
	c.batched.WritePoint(point)
}
