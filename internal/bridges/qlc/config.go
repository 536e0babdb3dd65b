package qlc

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Defaults for controller communication.
const (
	// DefaultPort is the QLC+ web interface port.
	DefaultPort = 9999

	// DefaultPath is the WebSocket endpoint path of the QLC+ web interface.
	DefaultPath = "/qlcplusWS"

	// defaultReconnectInterval is the flat delay before a reconnect attempt.
	defaultReconnectInterval = 2 * time.Second

	// defaultRequestTimeout bounds the wait for a query reply.
	defaultRequestTimeout = 10 * time.Second

	// defaultHandshakeTimeout bounds the WebSocket opening handshake.
	defaultHandshakeTimeout = 5 * time.Second

	// defaultWriteTimeout bounds a single frame write.
	defaultWriteTimeout = 5 * time.Second

	// maxHostnameLength is the DNS limit for a full hostname.
	maxHostnameLength = 253
)

// Config holds controller connection configuration.
type Config struct {
	// Host is the controller's IP address or hostname. Required.
	Host string

	// Port is the web interface port. Default: 9999.
	Port int

	// Path is the WebSocket endpoint path. Default: "/qlcplusWS".
	Path string

	// ReconnectInterval is the flat delay before each reconnect attempt.
	// Default: 2 seconds.
	ReconnectInterval time.Duration

	// ReconnectJitter adds a random delay in [0, ReconnectJitter) to each
	// reconnect. Default: 0 (no jitter).
	ReconnectJitter time.Duration

	// RequestTimeout bounds the wait for a query reply. Default: 10 seconds.
	RequestTimeout time.Duration

	// HandshakeTimeout bounds the WebSocket handshake. Default: 5 seconds.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single frame write. Default: 5 seconds.
	WriteTimeout time.Duration

	// SkipStatusQuery disables the function status query that follows each
	// catalog refresh.
	SkipStatusQuery bool
}

// withDefaults returns a copy of cfg with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// Validate checks the connection parameters.
// A zero Port is accepted and means DefaultPort.
func (c Config) Validate() error {
	var errs []error

	host := strings.TrimSpace(c.Host)
	switch {
	case host == "":
		errs = append(errs, errors.New("host is required"))
	case !validHost(host):
		errs = append(errs, fmt.Errorf("host %q is not a valid IP address or hostname", c.Host))
	}

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", c.Port))
	}
	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("path %q must start with /", c.Path))
	}
	if c.ReconnectInterval < 0 || c.ReconnectJitter < 0 || c.RequestTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Endpoint returns the WebSocket URL of the controller.
func (c Config) Endpoint() string {
	c = c.withDefaults()
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(c.Port)),
		Path:   c.Path,
	}
	return u.String()
}

// validHost accepts IPv4/IPv6 literals and RFC 1123 hostnames.
func validHost(host string) bool {
	if net.ParseIP(host) != nil {
		return true
	}
	if len(host) > maxHostnameLength {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			ch := label[i]
			isAlnum := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
			if !isAlnum && ch != '-' {
				return false
			}
		}
	}
	return true
}
