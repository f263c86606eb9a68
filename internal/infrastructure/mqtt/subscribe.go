package mqtt

import (
	"fmt"
	"maps"
	"sync"
)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// subscriptions remembers what to restore after a reconnect. The zero
// value is ready to use.
type subscriptions struct {
	mu      sync.RWMutex
	byTopic map[string]subscription
}

func (s *subscriptions) set(topic string, sub subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTopic == nil {
		s.byTopic = make(map[string]subscription)
	}
	s.byTopic[topic] = sub
}

func (s *subscriptions) remove(topic string) {
	s.mu.Lock()
	delete(s.byTopic, topic)
	s.mu.Unlock()
}

func (s *subscriptions) snapshot() map[string]subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.byTopic)
}

func (s *subscriptions) has(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byTopic[topic]
	return ok
}

func (s *subscriptions) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTopic)
}

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// Subscribe registers handler for topic, which may contain + and #
// wildcards, e.g. terrarium/terrarium-01/command/+. The subscription is
// restored automatically after a reconnect.
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected, or
//     ErrSubscribeFailed wrapping the broker's answer
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Recorded first so a reconnect racing with this call restores it.
	c.subs.set(topic, subscription{qos: qos, handler: handler})
	if err := wait(c.paho.Subscribe(topic, qos, c.dispatch(handler)), requestTimeout); err != nil {
		c.subs.remove(topic)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Unsubscribe stops delivery for topic, which must match the string given
// to Subscribe. The subscription is forgotten even when the broker cannot
// be reached, so it is not restored later.
func (c *Client) Unsubscribe(topic string) error {
	if err := validate(topic, 0); err != nil {
		return err
	}
	c.subs.remove(topic)

	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := wait(c.paho.Unsubscribe(topic), requestTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// SubscriptionCount returns how many topics are subscribed.
func (c *Client) SubscriptionCount() int {
	return c.subs.len()
}

// HasSubscription reports whether exactly topic is subscribed.
func (c *Client) HasSubscription(topic string) bool {
	return c.subs.has(topic)
}
