// Package api implements the HTTP status/control API and event stream for
// the QLC+ bridge.
//
// This package provides:
//   - REST endpoints listing the mirrored functions and widgets
//   - Function status history from the local store
//   - Operator commands and catalog refreshes forwarded to the controller
//   - An audit trail of those actions, by token subject
//   - JSON metrics and a Prometheus /metrics endpoint
//   - A WebSocket hub relaying client events (status, catalog, connection)
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// When security.jwt.secret is set every /api/v1 route except health needs a
// bearer token, and mutating routes need the operator role. Without a secret
// the API is open, which suits a bridge bound to a private control network.
//
// # Graceful Degradation
//
// Reads keep working while the controller is unreachable; commands and
// refreshes return 503 until the connection is re-established.
package api
