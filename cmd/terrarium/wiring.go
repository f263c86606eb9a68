package main

import (
	"context"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/metrics"
	"github.com/nerrad567/terrarium-core/internal/sensor"
)

// pollerMetrics forwards poller events to Prometheus.
type pollerMetrics struct {
	m *metrics.Metrics
}

func (p pollerMetrics) ObserveCycle(result sensor.CycleResult, elapsed time.Duration) {
	p.m.ObserveCycle(string(result), elapsed)
}

func (p pollerMetrics) ObserveSink(err error, _ time.Duration) {
	p.m.ObserveSink(err)
}

// metricsListener keeps the actuator and sensor gauges current.
func metricsListener(m *metrics.Metrics) func(device.Change) {
	return func(change device.Change) {
		switch v := change.Value.(type) {
		case device.MatrixState:
			m.SetActuator(string(device.ActuatorMatrix), v.On)
			m.SetBrightness(v.Brightness)
		case device.FanState:
			m.SetActuator(string(device.ActuatorFan), v.On)
		case device.PumpState:
			m.SetActuator(string(device.ActuatorPump), v.On)
		case device.SensorFrame:
			m.ObserveReading(device.NewReadingWithID("", v).Fields(), v.CapturedAt)
		}
	}
}

// influxSink writes readings as points.
func influxSink(c *influxdb.Client) sensor.Sink {
	return sensor.SinkFunc(func(ctx context.Context, reading device.Reading) error {
		return c.WriteReading(ctx, reading.Fields(), reading.Timestamp)
	})
}

// influxActuatorListener records every actuator change as a point.
func influxActuatorListener(c *influxdb.Client) func(device.Change) {
	return func(change device.Change) {
		actuator, ok := change.Actuator()
		if !ok {
			return
		}
		var fields map[string]any
		switch v := change.Value.(type) {
		case device.MatrixState:
			fields = map[string]any{
				"on":         v.On,
				"brightness": int64(v.Brightness),
				"r":          int64(v.Color.R),
				"g":          int64(v.Color.G),
				"b":          int64(v.Color.B),
			}
		case device.FanState:
			fields = map[string]any{"on": v.On}
		case device.PumpState:
			fields = map[string]any{"on": v.On}
		default:
			return
		}
		c.WriteActuatorState(string(actuator), string(change.Source), fields, change.At)
	}
}
