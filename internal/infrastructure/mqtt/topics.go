package mqtt

import "fmt"

// Topic prefixes per the Gray Logic MQTT conventions.
//
// All bridge topics use the flat scheme: graylogic/{category}/{protocol}/{id}
// where protocol is the bridge family ("shades") and id is the device or
// scene identifier assigned by the gateway.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	// Flat scheme: graylogic/{category}/{protocol}/{id}
	TopicPrefixBridge = "graylogic"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for Gray Logic MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("shades", "shade-42")
//	// Returns: "graylogic/state/shades/shade-42"
type Topics struct{}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: graylogic/state/shades/shade-42
func (Topics) BridgeState(protocol, id string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, id)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: graylogic/command/shades/shade-42
func (Topics) BridgeCommand(protocol, id string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, id)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: graylogic/ack/shades/shade-42
func (Topics) BridgeAck(protocol, id string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, id)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graylogic/health/shades
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeDiscovery returns the topic for device discovery from a bridge.
//
// Example: graylogic/discovery/shades
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefixBridge, protocol)
}

// BridgeConfig returns the topic for configuration updates to a bridge.
//
// Example: graylogic/config/shades
func (Topics) BridgeConfig(protocol string) string {
	return fmt.Sprintf("%s/config/%s", TopicPrefixBridge, protocol)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic used for the process LWT.
//
// Example: graylogic/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// BridgeCommands returns a pattern matching all commands to one bridge.
//
// Pattern: graylogic/command/shades/+
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}

// BridgeStates returns a pattern matching all state updates from one bridge.
//
// Pattern: graylogic/state/shades/+
func (Topics) BridgeStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefixBridge, protocol)
}

// BridgeAcks returns a pattern matching all acknowledgements from one bridge.
//
// Pattern: graylogic/ack/shades/+
func (Topics) BridgeAcks(protocol string) string {
	return fmt.Sprintf("%s/ack/%s/+", TopicPrefixBridge, protocol)
}

// AllBridgeHealth returns a pattern matching all bridge health updates.
//
// Pattern: graylogic/health/+
func (Topics) AllBridgeHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefixBridge)
}

// AllTopics returns a pattern matching all Gray Logic topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: graylogic/#
func (Topics) AllTopics() string {
	return "graylogic/#"
}
