// Package qlc implements the QLC+ lighting controller bridge for Gray Logic.
//
// This package keeps a persistent WebSocket connection to a QLC+ instance
// (ws://host:port/qlcplusWS), mirrors the controller's functions and
// virtual-console widgets locally and keeps that mirror consistent while
// push notifications arrive out of band from request/response traffic.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐  WebSocket
//	│   Gray Logic    │   MQTT   │   QLC+ Bridge   │◄──────────► QLC+
//	│      Core       │◄────────►│   (this pkg)    │ pipe lines
//	└─────────────────┘          └─────────────────┘
//
// The bridge is layered, leaves first:
//
//   - Codec: pipe-delimited framing and frame classification
//   - Reconciler: catalog construction, classification, display labels, ordering
//   - Correlator: matches replies to outstanding queries in FIFO order
//   - Client: connection lifecycle, reconnect timer, inbound routing
//   - Mirror: lock-free catalog snapshot with copy-on-write push patches
//   - Bridge: MQTT command/state translation on top of the client
//
// # Wire Format
//
// Every frame is a single text line of fields separated by '|'. Queries are
// prefixed with the namespace marker "QLC+API" and the controller replies
// with a line carrying the same namespace and verb:
//
//	-> QLC+API|getFunctionsList
//	<- QLC+API|getFunctionsList|0|Chase A|1|Scene B
//
// Fire-and-forget commands have no namespace and produce no reply:
//
//	-> setFunctionStatus|3|1
//
// Unsolicited status changes are pushed with a category as the first field:
//
//	<- FUNCTION|3|Running
//
// # Reconnection
//
// When the socket drops, every outstanding query fails with ErrDisconnected
// and exactly one reconnect is scheduled after a flat interval (2s by
// default). A successful reconnect triggers a full catalog refresh.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
// Inbound frames are processed by a single reader goroutine per connection,
// strictly in delivery order.
package qlc
