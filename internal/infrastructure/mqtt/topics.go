package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes.
//
// Per-terrarium topics live under terrarium/{site}/... so several
// enclosures can share a broker. The system status topic is shared and
// carries the client ID in its payload.
const (
	// TopicPrefix is the base for all terrarium topics.
	TopicPrefix = "terrarium"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "terrarium/system"
)

// Topics provides builders for one terrarium's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{Site: "terrarium-01"}
//	stateTopic := topics.ActuatorState("fan")
//	// Returns: "terrarium/terrarium-01/state/fan"
type Topics struct {
	Site string
}

// Base returns the topic root for the site.
//
// Example: terrarium/terrarium-01
func (t Topics) Base() string {
	return fmt.Sprintf("%s/%s", TopicPrefix, t.Site)
}

// =============================================================================
// State Topics (published retained)
// =============================================================================

// ActuatorState returns the retained state topic for an actuator.
//
// Example: terrarium/terrarium-01/state/matrix
func (t Topics) ActuatorState(actuator string) string {
	return fmt.Sprintf("%s/state/%s", t.Base(), actuator)
}

// AutoControl returns the retained auto-control configuration topic.
//
// Example: terrarium/terrarium-01/auto
func (t Topics) AutoControl() string {
	return t.Base() + "/auto"
}

// Reading returns the topic sensor readings are published on.
//
// Example: terrarium/terrarium-01/reading
func (t Topics) Reading() string {
	return t.Base() + "/reading"
}

// =============================================================================
// Command Topics
// =============================================================================

// Command returns the command topic for a target (matrix, fan, pump, auto).
//
// Example: terrarium/terrarium-01/command/pump
func (t Topics) Command(target string) string {
	return fmt.Sprintf("%s/command/%s", t.Base(), target)
}

// Ack returns the acknowledgement topic for a target.
//
// Example: terrarium/terrarium-01/ack/pump
func (t Topics) Ack(target string) string {
	return fmt.Sprintf("%s/ack/%s", t.Base(), target)
}

// CommandTarget extracts the target from a concrete command topic.
// It reports false for topics that are not one of this site's command
// topics.
func (t Topics) CommandTarget(topic string) (string, bool) {
	prefix := t.Base() + "/command/"
	target, ok := strings.CutPrefix(topic, prefix)
	if !ok || target == "" || strings.Contains(target, "/") {
		return "", false
	}
	return target, true
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: terrarium/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllCommands returns a pattern matching every command topic of the site.
//
// Pattern: terrarium/terrarium-01/command/+
func (t Topics) AllCommands() string {
	return t.Base() + "/command/+"
}

// AllStates returns a pattern matching every actuator state topic.
//
// Pattern: terrarium/terrarium-01/state/+
func (t Topics) AllStates() string {
	return t.Base() + "/state/+"
}

// AllTopics returns a pattern matching all of the site's topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: terrarium/terrarium-01/#
func (t Topics) AllTopics() string {
	return t.Base() + "/#"
}
