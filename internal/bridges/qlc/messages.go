package qlc

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MQTT message types for communication between Gray Logic Core and the QLC+ bridge.

// Protocol is the protocol identifier used in topics and messages.
const Protocol = "qlc"

// CommandMessage is sent from Core to Bridge to operate a function or widget.
// Topic: graylogic/command/qlc/{entity_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// EntityID is the QLC+ function or widget id. When empty the last topic
	// segment is used.
	EntityID string `json:"entity_id"`

	// Command is the command name (e.g., "set_function_status", "toggle_button").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"running": true} for set_function_status
	//   {"value": 128} for set_widget_value
	//   {"x": 10, "y": 200} for set_xy_pad
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
	// AckAccepted indicates the command was written to the controller.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the controller did not reply within the timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from Bridge to Core to acknowledge a command.
// Topic: graylogic/ack/qlc/{entity_id}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// EntityID is the target function or widget id.
	EntityID string `json:"entity_id"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Protocol is the protocol identifier ("qlc").
	Protocol string `json:"protocol"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "CONTROLLER_UNREACHABLE", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeControllerUnreachable = "CONTROLLER_UNREACHABLE"
	ErrCodeInvalidCommand        = "INVALID_COMMAND"
	ErrCodeInvalidParameters     = "INVALID_PARAMETERS"
	ErrCodeProtocolError         = "PROTOCOL_ERROR"
	ErrCodeTimeout               = "TIMEOUT"
	ErrCodeUnknownEntity         = "UNKNOWN_ENTITY"
	ErrCodeBridgeError           = "BRIDGE_ERROR"
)

// StateMessage is sent from Bridge to Core when a function's status changes.
// Topic: graylogic/state/qlc/{kind}/{entity_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// EntityID is the QLC+ id.
	EntityID string `json:"entity_id"`

	// Kind is "function" or "widget".
	Kind EntityKind `json:"kind"`

	// Label is the entity's display label.
	Label string `json:"label,omitempty"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State contains the current entity state.
	//   Function: {"status": "Running", "running": true}
	State map[string]any `json:"state"`

	// Protocol is the protocol identifier ("qlc").
	Protocol string `json:"protocol"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from Bridge to Core to report operational status.
// Topic: graylogic/health/qlc
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	// Bridge is the bridge identifier (e.g., "qlc-bridge-01").
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection contains controller connection details.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains operational metrics.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Functions and Widgets are the mirrored catalog sizes.
	Functions int `json:"functions"`
	Widgets   int `json:"widgets"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the controller connection state.
type ConnectionStatus struct {
	// Status is the lifecycle state ("connected", "connecting", ...).
	Status string `json:"status"`

	// Address is the controller endpoint.
	Address string `json:"address,omitempty"`

	// LastActivity is when a frame was last sent or received.
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	FramesReceived      uint64 `json:"frames_received"`
	FramesSent          uint64 `json:"frames_sent"`
	Errors              uint64 `json:"errors"`
	ReconnectsScheduled uint64 `json:"reconnects_scheduled"`
	PendingRequests     int    `json:"pending_requests"`
}

// RequestMessage is sent from Core to Bridge for request/response operations.
// Topic: graylogic/request/qlc/{request_id}
type RequestMessage struct {
	// RequestID uniquely identifies this request for correlation.
	RequestID string `json:"request_id"`

	// Timestamp is when the request was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Action is the requested operation.
	// Values: "list_functions", "list_widgets", "function_status", "query", "refresh"
	Action string `json:"action"`

	// EntityID is the target entity (for entity-specific actions).
	EntityID string `json:"entity_id,omitempty"`

	// Parameters contains action-specific values.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage is sent from Bridge to Core in response to a request.
// Topic: graylogic/response/qlc/{request_id}
type ResponseMessage struct {
	// RequestID is the ID from the original request.
	RequestID string `json:"request_id"`

	// Timestamp is when the response was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Success indicates whether the request succeeded.
	Success bool `json:"success"`

	// Data contains the response payload (if successful).
	Data map[string]any `json:"data,omitempty"`

	// Error contains error details (if failed).
	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	// Code is the error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// DiscoveryMessage announces the mirrored catalog after each refresh.
// Topic: graylogic/discovery/qlc
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	// Timestamp is when the catalog was refreshed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Entities contains functions followed by widgets, each in display order.
	Entities []DiscoveredEntity `json:"entities"`
}

// DiscoveredEntity is one function or widget in a discovery message.
type DiscoveredEntity struct {
	Protocol      string     `json:"protocol"`
	ID            string     `json:"id"`
	Kind          EntityKind `json:"kind"`
	Type          string     `json:"type,omitempty"`
	Label         string     `json:"label"`
	SuggestedName string     `json:"suggested_name"`
	Capabilities  []string   `json:"capabilities"`
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

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		EntityID:  cmd.EntityID,
		Status:    status,
		Protocol:  Protocol,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for a function status.
func NewStateMessage(e Entity) StateMessage {
	status := e.StatusOrUnknown()
	return StateMessage{
		EntityID:  e.ID,
		Kind:      e.Kind,
		Label:     e.DisplayLabel,
		Timestamp: time.Now().UTC(),
		State: map[string]any{
			"status":  status,
			"running": status == StatusRunning,
		},
		Protocol: Protocol,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version, endpoint string, status HealthStatus, stats Stats, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Functions:     stats.Functions,
		Widgets:       stats.Widgets,
		Connection: &ConnectionStatus{
			Status:  stats.State.String(),
			Address: endpoint,
		},
		Statistics: &BridgeStatistics{
			FramesReceived:      stats.FramesRx,
			FramesSent:          stats.FramesTx,
			Errors:              stats.ErrorsTotal,
			ReconnectsScheduled: stats.ReconnectsScheduled,
			PendingRequests:     stats.PendingRequests,
		},
	}
	if !stats.LastActivity.IsZero() && stats.LastActivity.Unix() > 0 {
		last := stats.LastActivity.UTC()
		msg.Connection.LastActivity = &last
	}
	return msg
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

// NewDiscoveryMessage builds a discovery announcement from a catalog.
func NewDiscoveryMessage(bridgeID string, cat Catalog) DiscoveryMessage {
	entities := make([]DiscoveredEntity, 0, len(cat.Functions)+len(cat.Widgets))
	for _, group := range [][]Entity{cat.Functions, cat.Widgets} {
		for _, e := range group {
			entities = append(entities, DiscoveredEntity{
				Protocol:      Protocol,
				ID:            e.ID,
				Kind:          e.Kind,
				Type:          e.Classification,
				Label:         e.RawLabel,
				SuggestedName: e.DisplayLabel,
				Capabilities:  Capabilities(e),
			})
		}
	}
	return DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		Entities:  entities,
	}
}

// Capabilities lists the commands an entity accepts, derived from its kind
// and QLC+ type name.
func Capabilities(e Entity) []string {
	if e.Kind == KindFunction {
		return []string{"start_stop"}
	}
	switch strings.ToLower(e.Classification) {
	case "button":
		return []string{"press", "toggle"}
	case "slider", "knob":
		return []string{"value"}
	case "cue list":
		return []string{"cue_step"}
	case "frame", "solo frame":
		return []string{"page"}
	case "xy pad":
		return []string{"xy"}
	case "speed dial":
		return []string{"speed"}
	default:
		return []string{"value"}
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all Gray Logic messages.
	TopicPrefix = "graylogic"
)

// CommandTopic returns the MQTT topic for commands to an entity.
// Example: graylogic/command/qlc/12
func CommandTopic(entityID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, entityID)
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: graylogic/ack/qlc/12
func AckTopic(entityID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, entityID)
}

// StateTopic returns the MQTT topic for entity state.
// Example: graylogic/state/qlc/function/3
func StateTopic(kind EntityKind, entityID string) string {
	return fmt.Sprintf("%s/state/%s/%s/%s", TopicPrefix, Protocol, kind, entityID)
}

// HealthTopic returns the MQTT topic for health status.
// Example: graylogic/health/qlc
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// RequestTopic returns the MQTT topic for requests.
// Example: graylogic/request/qlc/req-123
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// ResponseTopic returns the MQTT topic for responses.
// Example: graylogic/response/qlc/req-123
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// DiscoveryTopic returns the MQTT topic for catalog discovery.
// Example: graylogic/discovery/qlc
func DiscoveryTopic() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, Protocol)
}

// CommandSubscribeTopic returns the MQTT subscription pattern for all commands.
// Example: graylogic/command/qlc/#
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefix, Protocol)
}

// RequestSubscribeTopic returns the MQTT subscription pattern for all requests.
// Example: graylogic/request/qlc/#
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/#", TopicPrefix, Protocol)
}
