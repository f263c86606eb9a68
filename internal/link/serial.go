package link

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of a serial port the transport needs.
// go.bug.st/serial ports satisfy it; tests substitute a scripted fake.
type Port interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds the next Read. A Read that times out returns
	// 0 bytes and a nil error.
	SetReadTimeout(t time.Duration) error

	// ResetInputBuffer discards bytes received but not yet read.
	ResetInputBuffer() error
}

// Opener opens the physical port. It is called on every (re)connect.
type Opener func() (Port, error)

// SerialOpener returns an Opener for the configured device at 8N1.
func SerialOpener(cfg Config) Opener {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = defaultBaudRate
	}

	return func() (Port, error) {
		p, err := serial.Open(cfg.PortName, mode)
		if err != nil {
			return nil, describeOpenError(cfg.PortName, err)
		}
		return p, nil
	}
}

// AvailablePorts lists the serial devices present on this host.
func AvailablePorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}

// describeOpenError turns the library's port error codes into a message an
// operator can act on.
func describeOpenError(name string, err error) error {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return err
	}
	switch portErr.Code() {
	case serial.PortNotFound:
		return fmt.Errorf("port %s not found (is the board plugged in?): %w", name, err)
	case serial.PortBusy:
		return fmt.Errorf("port %s is in use by another process: %w", name, err)
	case serial.PermissionDenied:
		return fmt.Errorf("no permission to open %s (add the user to the dialout group): %w", name, err)
	default:
		return err
	}
}
