package shades

import (
	"encoding/json"
	"fmt"
	"time"
)

// MQTT message types exchanged between the host controller and the shade
// bridge over the graylogic/* topic tree.

// CommandMessage is sent from the host to the bridge to execute a shade
// or scene command.
// Topic: graylogic/command/shades/{id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the target shade or scene identifier.
	DeviceID string `json:"device_id"`

	// Command is the command name: open, close, stop, jog, tilt_open,
	// tilt_close, set_position, activate_scene.
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Example: {"primary": 40, "tilt": 25} for set_position.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was received and forwarded to the gateway.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the gateway did not respond within the timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to the host to acknowledge a command.
// Topic: graylogic/ack/shades/{id}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the target shade or scene identifier.
	DeviceID string `json:"device_id"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Protocol is the protocol identifier ("shades").
	Protocol string `json:"protocol"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "DEVICE_UNREACHABLE", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from the bridge to the host when shade or scene
// state changes.
// Topic: graylogic/state/shades/{id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the shade or scene identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Kind distinguishes "shade" from "scene" states.
	Kind string `json:"kind"`

	// State contains the current entity state.
	// Shade: {"name": ..., "capability": 1, "primary": 40, "tilt": 25,
	//         "battery": "low", "motion": false}
	// Scene: {"name": ..., "active": true}
	State map[string]any `json:"state"`

	// Protocol is the protocol identifier ("shades").
	Protocol string `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the bridge is not operating correctly.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from the bridge to the host to report status.
// Topic: graylogic/health/shades
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier (e.g., "shades").
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Gateway contains primary gateway details.
	Gateway *GatewayStatus `json:"gateway,omitempty"`

	// Statistics contains operational metrics.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// DevicesManaged is the number of tracked shades and scenes.
	DevicesManaged int `json:"devices_managed"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// GatewayStatus describes the primary gateway designation.
type GatewayStatus struct {
	// Status is "connected" when a primary is designated and reachable,
	// "outage" when the last election found no reachable candidate.
	Status string `json:"status"`

	// Address is the current primary gateway address.
	Address string `json:"address,omitempty"`

	// Generation is the gateway API dialect ("push" or "poll").
	Generation string `json:"generation"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	// FullSyncs is the number of completed full synchronisation cycles.
	FullSyncs uint64 `json:"full_syncs"`

	// EventsReceived is the number of stream events received.
	EventsReceived uint64 `json:"events_received"`

	// EventsDropped is the number of events dropped on buffer overflow.
	EventsDropped uint64 `json:"events_dropped"`

	// CommandsForwarded is the number of commands forwarded to the gateway.
	CommandsForwarded uint64 `json:"commands_forwarded"`

	// Errors is the total number of errors encountered.
	Errors uint64 `json:"errors"`
}

// DiscoveryMessage is sent from the bridge to the host after a
// rediscovery pass to announce the tracked device population.
// Topic: graylogic/discovery/shades
type DiscoveryMessage struct {
	// Timestamp is when discovery was performed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Shades contains the discovered shades.
	Shades []DiscoveredShade `json:"shades"`

	// Scenes contains the discovered scenes.
	Scenes []DiscoveredScene `json:"scenes"`
}

// DiscoveredShade represents a shade found during discovery.
type DiscoveredShade struct {
	// ID is the gateway-assigned shade identifier.
	ID string `json:"id"`

	// Name is the decoded display name.
	Name string `json:"name"`

	// RoomID is the gateway room identifier (if assigned).
	RoomID string `json:"room_id,omitempty"`

	// Capability is the gateway-reported capability code.
	Capability int `json:"capability"`

	// Variant is the human-readable capability variant name.
	Variant string `json:"variant"`

	// Battery is the decoded battery level.
	Battery string `json:"battery"`
}

// DiscoveredScene represents a scene found during discovery.
type DiscoveredScene struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	RoomID string `json:"room_id,omitempty"`
}

// JSON marshalling helpers

// MarshalJSON marshals a CommandMessage to JSON.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage from JSON.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// protocolName identifies this bridge's protocol in messages and topics.
const protocolName = "shades"

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  protocolName,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  protocolName,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage creates a state message for a shade or scene.
func NewStateMessage(kind, deviceID string, state map[string]any) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		State:     state,
		Protocol:  protocolName,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, gateway *GatewayStatus, stats BridgeStatistics, deviceCount int, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		Gateway:        gateway,
		Statistics:     &stats,
		DevicesManaged: deviceCount,
	}
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// This message is published by the broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all Gray Logic messages.
	TopicPrefix = "graylogic"
)

// CommandTopic returns the MQTT topic for commands to a specific entity.
// Example: graylogic/command/shades/42
func CommandTopic(id string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocolName, id)
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: graylogic/ack/shades/42
func AckTopic(id string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocolName, id)
}

// StateTopic returns the MQTT topic for state updates.
// Example: graylogic/state/shades/42
func StateTopic(id string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocolName, id)
}

// HealthTopic returns the MQTT topic for health status.
// Example: graylogic/health/shades
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocolName)
}

// DiscoveryTopic returns the MQTT topic for device discovery summaries.
// Example: graylogic/discovery/shades
func DiscoveryTopic() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, protocolName)
}

// ConfigTopic returns the MQTT topic for administrative calls.
// Example: graylogic/config/shades
func ConfigTopic() string {
	return fmt.Sprintf("%s/config/%s", TopicPrefix, protocolName)
}

// CommandSubscribeTopic returns the MQTT subscription pattern for all commands.
// Example: graylogic/command/shades/+
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocolName)
}
