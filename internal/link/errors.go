package link

import "errors"

// Domain errors for the link package.
var (
	// ErrLink is returned when the serial port cannot be opened, read or
	// written. The link stays broken until Reconnect succeeds.
	ErrLink = errors.New("link: serial link failure")

	// ErrTimeout is returned when no reply arrives within the read window,
	// or when the caller's context expires while waiting for the link.
	ErrTimeout = errors.New("link: exchange timed out")

	// ErrProtocol is returned for replies that cannot be a valid line:
	// invalid UTF-8, over-long, blank, or a command that cannot be framed.
	ErrProtocol = errors.New("link: protocol error")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("link: transport closed")
)
