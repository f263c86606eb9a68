package sensor

import "errors"

// Domain errors for the sensor package.
var (
	// ErrInvalidFrame is returned when a READ reply is not a usable
	// sensor frame.
	ErrInvalidFrame = errors.New("sensor: invalid frame")

	// ErrNoReading is returned by Upload before the first reading.
	ErrNoReading = errors.New("sensor: no reading yet")

	// ErrAlreadyRunning is returned by Start on a running poller.
	ErrAlreadyRunning = errors.New("sensor: poller already running")
)
