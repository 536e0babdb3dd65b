package qlc

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open connection to the controller.
//
// ReadLine blocks until a frame arrives or the connection fails; it is only
// ever called from a single goroutine. WriteLine may be called concurrently.
// Close unblocks a pending ReadLine and is safe to call more than once.
type Transport interface {
	ReadLine() (string, error)
	WriteLine(ctx context.Context, line string) error
	Close() error
}

// Dialer opens transports. Tests substitute an in-memory implementation.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Transport, error)
}

// WebSocketDialer opens WebSocket transports to a QLC+ web interface.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the WebSocket opening handshake.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// Header is sent with the handshake request. Optional.
	Header http.Header
}

// Ensure WebSocketDialer implements Dialer.
var _ Dialer = (*WebSocketDialer)(nil)

// Dial opens a WebSocket connection to endpoint.
//
// Parameters:
//   - ctx: bounds the dial and handshake
//   - endpoint: ws:// URL, e.g. "ws://192.168.1.10:9999/qlcplusWS"
//
// Returns:
//   - Transport: open connection
//   - error: wrapped ErrConnectionFailed
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	handshake := d.HandshakeTimeout
	if handshake == 0 {
		handshake = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshake,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // handshake response body carries nothing we need
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, endpoint, err)
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}, nil
}

// wsTransport adapts a gorilla WebSocket connection to Transport.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// gorilla/websocket supports one concurrent writer only.
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// ReadLine returns the next text or binary frame as a string.
// Control frames are handled internally by gorilla/websocket.
func (t *wsTransport) ReadLine() (string, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return string(data), nil
		}
	}
}

// WriteLine sends one frame as a text message.
func (t *wsTransport) WriteLine(ctx context.Context, line string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close sends a close frame (best effort) and closes the socket.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		// Peer may already be gone; the close frame is best effort.
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
