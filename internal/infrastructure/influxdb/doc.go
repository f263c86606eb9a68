// Package influxdb writes terrarium telemetry to InfluxDB 2.x.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, two write paths and health monitoring.
//
// # Measurements
//
//   - terrarium_reading: one point per sensor reading, fields moisture,
//     light, temperature, humidity (only those present), tag site
//   - terrarium_actuator: one point per committed actuator change, tags
//     site, actuator, source
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.WriteReading(ctx, reading.Fields(), reading.Timestamp); err != nil {
//	    // reported to the poller, not retried
//	}
//	client.WriteActuatorState("fan", "auto", map[string]any{"on": true}, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Reading writes block and return their error. Actuator writes are batched
// according to config.yaml (batch_size, flush_interval) and their errors
// are delivered to the SetOnError callback.
package influxdb
