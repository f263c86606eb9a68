package remote

import (
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
)

// CommandMessage is received on terrarium/{site}/command/{target}.
type CommandMessage struct {
	// ID correlates the command with its acknowledgement.
	ID string `json:"id"`

	// Command is the operation, e.g. "on", "off", "preset", "trigger".
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"r": 255, "g": 0, "b": 0} for matrix color
	//   {"duration": 5} for pump trigger (seconds)
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source names the sender for logs, e.g. "home-assistant".
	Source string `json:"source,omitempty"`
}

// AckStatus is the outcome reported for a command.
type AckStatus string

const (
	// AckCompleted means the board acknowledged the command and the state
	// store was updated.
	AckCompleted AckStatus = "completed"

	// AckFailed means the command was rejected or the board did not
	// acknowledge it.
	AckFailed AckStatus = "failed"

	// AckTimeout means the board did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// Error codes carried in failed acknowledgements.
const (
	ErrCodeInvalidMessage    = "INVALID_MESSAGE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeShuttingDown      = "SHUTTING_DOWN"
)

// AckMessage is published on terrarium/{site}/ack/{target}.
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes why a command failed.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StateMessage is published retained on terrarium/{site}/state/{actuator}
// and terrarium/{site}/auto.
type StateMessage struct {
	Timestamp time.Time     `json:"timestamp"`
	Source    device.Source `json:"source"`
	State     any           `json:"state"`
}

// ReadingMessage is published on terrarium/{site}/reading.
type ReadingMessage struct {
	Site    string         `json:"site"`
	Reading device.Reading `json:"reading"`
}

// newAck builds an acknowledgement for cmd. A nil err is a success.
func newAck(target string, cmd CommandMessage, err error) AckMessage {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Target:    target,
		Command:   cmd.Command,
		Status:    AckCompleted,
	}
	if err == nil {
		return ack
	}

	code := errorCode(err)
	ack.Status = AckFailed
	if code == ErrCodeTimeout {
		ack.Status = AckTimeout
	}
	ack.Error = &AckError{Code: code, Message: err.Error()}
	return ack
}
