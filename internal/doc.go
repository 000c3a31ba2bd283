// Package internal contains helper utilities that are private to clinicauth:
// reset-token generation and User-Agent classification.
//
// # Sub-packages
//
//   - audit: async security-event dispatch (Dispatcher + Sink implementations)
//   - flows: login, refresh, logout and password flows as pure orchestrators
//   - limiters: lockout monitor and reset-request throttle
//   - logging: zap logger construction from environment
//   - rate: Redis-backed fixed-window rate limit primitive
//   - stores: Postgres stores for login attempts, security events and reset tokens
//   - telemetry: OpenTelemetry tracer provider setup
//
// # What this package must NOT do
//
//   - Export types that appear in the public clinicauth API.
//   - Be imported by any package outside the clinicauth module.
package internal
