// Package config handles loading and validating Terrarium Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with TERRARIUM_* environment variables
//   - Validation of serial, polling and control settings
//   - Default value handling
//
// Durations (serial.boot_delay, poller.interval, pump.pulse_duration, ...)
// are written in Go duration syntax: "500ms", "3s", "3m".
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
//     set via environment variables or a .env file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Serial.Port)
package config
