// Package mqtt provides MQTT client connectivity for the terrarium.
//
// This package manages:
//   - Connection to a Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// MQTT is optional. When enabled, the remote package publishes retained
// actuator state and sensor readings, and accepts commands from home
// automation or a phone app.
//
//	Terrarium Core ↔ MQTT Broker ↔ Dashboards / Remote Controls
//
// # Security Considerations
//
//   - Enable TLS when the broker is not on the same host (cfg.Broker.TLS=true)
//   - Credentials are validated against the broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Site: cfg.Site.ID}
//	err = client.Subscribe(topics.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        target, _ := topics.CommandTarget(topic)
//	        return handle(target, payload)
//	    })
//
//	client.Publish(topics.ActuatorState("fan"), []byte(`{"on":true}`), 1, true)
package mqtt
