package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/terrarium-core/internal/device"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/mqtt"
)

const publisherQueueSize = 64

// Publisher mirrors the state store onto MQTT.
//
// Actuator state and the auto-control configuration are published retained
// so a dashboard that connects later sees the current values. Readings are
// published as they are taken; Publisher is a sensor.Sink for that.
//
// Store listeners run on the committing goroutine, so Handle only queues;
// a single worker publishes in order.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Publisher struct {
	client Client
	topics mqtt.Topics
	qos    byte
	logger Logger

	queue   chan device.Change
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

// NewPublisher creates a publisher for the given site.
//
// Parameters:
//   - client: Connected MQTT client
//   - site: Site ID used in topic names
//   - qos: QoS for every publish
//   - logger: May be nil
func NewPublisher(client Client, site string, qos byte, logger Logger) *Publisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Publisher{
		client: client,
		topics: mqtt.Topics{Site: site},
		qos:    qos,
		logger: logger,
		queue:  make(chan device.Change, publisherQueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the publish worker.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop publishes what is already queued and stops the worker.
func (p *Publisher) Stop() {
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

// Handle queues a store change for publishing. It never blocks. Pass it to
// Store.Subscribe. Sensor frames are ignored; readings arrive through
// SaveReading instead.
func (p *Publisher) Handle(change device.Change) {
	if change.Kind == device.ChangeSensorFrame {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.queue <- change:
	default:
		p.dropped.Add(1)
		p.logger.Warn("mqtt publish queue full, dropping change", "kind", change.Kind)
	}
}

// Dropped returns how many changes were discarded because the queue was full.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// SaveReading publishes a reading. It implements sensor.Sink.
func (p *Publisher) SaveReading(_ context.Context, reading device.Reading) error {
	payload, err := json.Marshal(ReadingMessage{Site: p.topics.Site, Reading: reading})
	if err != nil {
		return fmt.Errorf("marshalling reading: %w", err)
	}
	return p.client.Publish(p.topics.Reading(), payload, p.qos, false)
}

// PublishSnapshot publishes the full current state retained. Call it after
// connecting, and again on every reconnect, since the broker may have lost
// its retained messages.
func (p *Publisher) PublishSnapshot(state device.ActuatorState, cfg device.AutoControlConfig) error {
	now := time.Now().UTC()
	states := []struct {
		topic string
		value any
	}{
		{p.topics.ActuatorState(string(device.ActuatorMatrix)), state.Matrix},
		{p.topics.ActuatorState(string(device.ActuatorFan)), state.Fan},
		{p.topics.ActuatorState(string(device.ActuatorPump)), state.Pump},
		{p.topics.AutoControl(), cfg},
	}
	for _, s := range states {
		if err := p.publishState(s.topic, StateMessage{Timestamp: now, Source: device.SourceSystem, State: s.value}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case change := <-p.queue:
			p.publish(change)
		case <-p.done:
			for {
				select {
				case change := <-p.queue:
					p.publish(change)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publish(change device.Change) {
	var topic string
	if actuator, ok := change.Actuator(); ok {
		topic = p.topics.ActuatorState(string(actuator))
	} else if change.Kind == device.ChangeAutoControl {
		topic = p.topics.AutoControl()
	} else {
		return
	}

	msg := StateMessage{Timestamp: change.At, Source: change.Source, State: change.Value}
	if err := p.publishState(topic, msg); err != nil {
		p.logger.Warn("failed to publish state", "topic", topic, "error", err)
	}
}

func (p *Publisher) publishState(topic string, msg StateMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}
	return p.client.Publish(topic, payload, p.qos, true)
}
