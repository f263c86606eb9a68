package remote

import (
	"github.com/nerrad567/terrarium-core/internal/infrastructure/mqtt"
)

// Client is the subset of the MQTT client the remote package uses.
// *mqtt.Client satisfies it; tests use a fake.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

var _ Client = (*mqtt.Client)(nil)

// Logger defines the logging interface used by the remote package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
