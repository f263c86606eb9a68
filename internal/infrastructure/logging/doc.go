// Package logging provides structured logging for Terrarium Core.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same fields and format.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file:
//	    path: "/var/log/terrarium/core.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 5000)
//	poller.SetLogger(logger.With("component", "poller"))
//
// Never log secrets such as the JWT secret, MQTT password or InfluxDB token.
package logging
