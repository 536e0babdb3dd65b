// Package auth issues and validates bearer tokens for the bridge HTTP API.
//
// Tokens are HS256-signed JWTs carrying one of two roles:
//   - viewer: read-only access to the catalog, history and metrics
//   - operator: viewer plus commands, refreshes and cache resets
//
// The secret comes from security.jwt.secret (or GRAYLOGIC_JWT_SECRET). When
// no secret is configured the API does not require tokens at all.
package auth
