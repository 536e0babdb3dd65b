package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/qlc-bridge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// statusTopicPrefix roots the per-client presence topic.
	statusTopicPrefix = "graylogic/system"
)

// Option customises a Client at Connect time.
type Option func(*connectOptions)

type connectOptions struct {
	willTopic   string
	willPayload []byte
	logger      Logger
}

// WithWill replaces the default Last Will and Testament.
// The broker publishes payload (QoS 1, retained) on topic if the client
// disappears without a clean disconnect.
func WithWill(topic string, payload []byte) Option {
	return func(o *connectOptions) {
		o.willTopic = topic
		o.willPayload = payload
	}
}

// WithLogger sets the logger used for handler errors and reconnect events.
func WithLogger(logger Logger) Option {
	return func(o *connectOptions) {
		o.logger = logger
	}
}

// StatusTopic returns the retained presence topic for a client ID.
//
// Example: graylogic/system/qlcbridge/status
func StatusTopic(clientID string) string {
	return fmt.Sprintf("%s/%s/status", statusTopicPrefix, clientID)
}

// presence is the payload published on StatusTopic.
type presence struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// buildPresencePayload encodes a presence message stamped with the current time.
func buildPresencePayload(clientID, status, reason string) []byte {
	payload, _ := json.Marshal(presence{ //nolint:errchkjson // string-only struct
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}

// buildClientOptions creates paho MQTT options from the bridge config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and optional credentials
//   - Auto-reconnect with exponential backoff
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// No persistent session: the bridge re-subscribes and republishes itself.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT sets the Last Will and Testament.
//
// Without WithWill the will is an offline presence message on
// StatusTopic(clientID). QoS 1, retained.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string, co connectOptions) {
	if co.willTopic != "" {
		opts.SetBinaryWill(co.willTopic, co.willPayload, 1, true)
		return
	}
	opts.SetBinaryWill(StatusTopic(clientID),
		buildPresencePayload(clientID, "offline", "unexpected_disconnect"), 1, true)
}
