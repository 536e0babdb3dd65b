package qlc

import "errors"

// Domain errors for the QLC+ bridge package.
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the client is not connected to the controller.
	ErrNotConnected = errors.New("qlc: not connected to controller")

	// ErrConnectionFailed is returned when the transport cannot be opened.
	ErrConnectionFailed = errors.New("qlc: connection to controller failed")

	// ErrDisconnected completes outstanding queries when the connection drops.
	ErrDisconnected = errors.New("qlc: connection lost")

	// ErrClosed is returned once the client has been destroyed.
	ErrClosed = errors.New("qlc: client closed")

	// ErrRequestTimeout is returned when a query receives no reply in time.
	ErrRequestTimeout = errors.New("qlc: request timed out")

	// ErrNotQuery is returned when a command without the namespace marker
	// is registered for a reply.
	ErrNotQuery = errors.New("qlc: command is not a namespaced query")

	// ErrInvalidFrame is returned when an inbound frame cannot be parsed.
	ErrInvalidFrame = errors.New("qlc: invalid frame")

	// ErrClassificationFailed is returned when a type query yields no usable value.
	ErrClassificationFailed = errors.New("qlc: classification failed")

	// ErrInvalidConfig is returned when connection parameters are rejected.
	ErrInvalidConfig = errors.New("qlc: invalid configuration")

	// ErrInvalidCommand is returned when a command builder rejects its arguments.
	ErrInvalidCommand = errors.New("qlc: invalid command")
)
