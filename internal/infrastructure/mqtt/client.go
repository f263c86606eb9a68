package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/terrarium-core/internal/infrastructure/config"
)

// Client is one broker connection.
//
// Subscriptions made through Subscribe are remembered and restored after
// paho reconnects; every (re)connect also publishes a retained online
// status.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	paho     pahomqtt.Client
	clientID string
	qos      byte

	connected atomic.Bool
	subs      subscriptions

	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger receives handler failures and reconnect notices.
// *logging.Logger and *slog.Logger satisfy it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler handles one received message. Handlers run on paho's
// goroutines and should return quickly; a returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits for the session.
//
// Parameters:
//   - cfg: the mqtt config section
//
// Returns:
//   - *Client: connected client
//   - error: ErrConnectionFailed if the broker refused or did not answer
//     within 10 seconds
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		clientID: cfg.Broker.ClientID,
		qos:      byte(cfg.QoS),
	}

	opts := newClientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionDown(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if logger := c.hooks().logger; logger != nil {
			logger.Warn("reconnecting to MQTT broker", "broker", brokerURL(cfg))
		}
	})

	c.paho = pahomqtt.NewClient(opts)
	if err := wait(c.paho.Connect(), connectTimeout); err != nil {
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// The connect handler runs on its own goroutine; mark the session up
	// now so callers can subscribe straight away.
	c.connected.Store(true)
	return c, nil
}

// wait blocks on a paho token.
func wait(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("no response from broker after %v", timeout)
	}
	return token.Error()
}

func (c *Client) connectionUp() {
	c.connected.Store(true)

	for topic, sub := range c.subs.snapshot() {
		// Errors surface on the next reconnect; nothing to do with them here.
		c.paho.Subscribe(topic, sub.qos, c.dispatch(sub.handler))
	}
	c.paho.Publish(Topics{}.SystemStatus(), c.qos, true, statusPayload(c.clientID, StatusOnline, ""))

	if fn := c.hooks().onConnect; fn != nil {
		fn()
	}
}

func (c *Client) connectionDown(err error) {
	c.connected.Store(false)

	if fn := c.hooks().onDisconnect; fn != nil {
		fn(err)
	}
}

// Close publishes a retained "shutdown" offline status and disconnects.
// It is safe on a client that never connected.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.IsConnected() {
		payload := statusPayload(c.clientID, StatusOffline, ReasonShutdown)
		_ = wait(c.paho.Publish(Topics{}.SystemStatus(), c.qos, true, payload), requestTimeout)
	}
	c.paho.Disconnect(quiesceMillis)
	c.connected.Store(false)
	return nil
}

// HealthCheck returns ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the session is currently up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

// SetOnConnect registers fn for every (re)connect. It runs after
// subscriptions have been restored.
func (c *Client) SetOnConnect(fn func()) {
	c.hookMu.Lock()
	c.onConnect = fn
	c.hookMu.Unlock()
}

// SetOnDisconnect registers fn for every lost connection.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hookMu.Lock()
	c.onDisconnect = fn
	c.hookMu.Unlock()
}

// SetLogger sets where handler errors and panics are reported. Without a
// logger they are dropped.
func (c *Client) SetLogger(logger Logger) {
	c.hookMu.Lock()
	c.logger = logger
	c.hookMu.Unlock()
}

type clientHooks struct {
	onConnect    func()
	onDisconnect func(error)
	logger       Logger
}

func (c *Client) hooks() clientHooks {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return clientHooks{onConnect: c.onConnect, onDisconnect: c.onDisconnect, logger: c.logger}
}

// dispatch adapts a MessageHandler to paho, recovering panics so one bad
// message cannot take the process down.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		logger := c.hooks().logger
		defer func() {
			if r := recover(); r != nil && logger != nil {
				logger.Error("MQTT handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil && logger != nil {
			logger.Warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
