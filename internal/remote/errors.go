package remote

import (
	"errors"

	"github.com/nerrad567/terrarium-core/internal/device"
	"github.com/nerrad567/terrarium-core/internal/link"
)

// Domain errors for the remote package.
var (
	// ErrInvalidMessage is returned for payloads that are not a command.
	ErrInvalidMessage = errors.New("remote: invalid command message")

	// ErrUnknownTarget is returned for a command topic naming no actuator.
	ErrUnknownTarget = errors.New("remote: unknown command target")

	// ErrUnknownCommand is returned for a command the target does not support.
	ErrUnknownCommand = errors.New("remote: unknown command")

	// ErrInvalidParameters is returned for missing or malformed parameters.
	ErrInvalidParameters = errors.New("remote: invalid parameters")
)

// errorCode maps an execution error to an acknowledgement code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidMessage):
		return ErrCodeInvalidMessage
	case errors.Is(err, ErrUnknownTarget), errors.Is(err, ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidParameters),
		errors.Is(err, device.ErrInvalidArgument),
		errors.Is(err, device.ErrUnknownPreset),
		errors.Is(err, device.ErrInvalidConfig):
		return ErrCodeInvalidParameters
	case errors.Is(err, device.ErrShutdown), errors.Is(err, link.ErrClosed):
		return ErrCodeShuttingDown
	case errors.Is(err, link.ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, link.ErrLink):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, link.ErrProtocol), errors.Is(err, device.ErrUnexpectedAck):
		return ErrCodeProtocolError
	}
	return ErrCodeDeviceUnreachable
}
