// Package audit implements async dispatch of security events: lockouts,
// suspicious activity, forced logouts, password resets and tenant source
// conflicts.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, zap, fan-out, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured security record with severity, user, tenant, IP, metadata.
//
// The Postgres sink that appends to security_events lives in internal/stores.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import clinicauth or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
