package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/terrarium-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	requestTimeout = 5 * time.Second // publish, subscribe, unsubscribe
	keepAlive      = 60 * time.Second

	// quiesceMillis lets in-flight publishes finish on Close.
	quiesceMillis = 1000

	maxQoS         = 2
	maxPayloadSize = 1 << 20
	tlsMinVersion  = tls.VersionTLS12
)

// brokerURL returns tcp://host:port, or ssl:// when TLS is on.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// newClientOptions maps the mqtt config section onto paho options,
// including the retained offline will on the system status topic.
//
// The first connection attempt is not retried: Connect reports the failure
// and the caller decides whether MQTT is optional. Once connected, paho
// reconnects on its own with backoff between the configured delays.
func newClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetConnectRetry(false).
		SetAutoReconnect(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	will := statusPayload(cfg.Broker.ClientID, StatusOffline, ReasonConnectionLost)
	opts.SetBinaryWill(Topics{}.SystemStatus(), will, 1, true)

	return opts
}
