package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrUnexpectedAck) {
//	    // the board answered, but not with the expected acknowledgment
//	}
var (
	// ErrCommandFailed wraps a link error (link.ErrLink, link.ErrTimeout,
	// link.ErrProtocol) raised while sending an actuator command.
	ErrCommandFailed = errors.New("device: command failed")

	// ErrUnexpectedAck is returned when the board replied with something
	// other than the acknowledgment for the command.
	ErrUnexpectedAck = errors.New("device: unexpected acknowledgment")

	// ErrUnknownPreset is returned for a colour name the firmware lacks.
	ErrUnknownPreset = errors.New("device: unknown colour preset")

	// ErrInvalidArgument is returned for out-of-range operation arguments.
	ErrInvalidArgument = errors.New("device: invalid argument")

	// ErrInvalidConfig is returned when auto-control targets fail validation.
	ErrInvalidConfig = errors.New("device: invalid auto-control config")

	// ErrShutdown is returned by timed operations after Shutdown.
	ErrShutdown = errors.New("device: controller shut down")
)
