// Package session persists login sessions and their refresh tokens in
// Postgres.
//
// A session is one logged-in device. Each session owns zero or more refresh
// tokens, identified by the jti of the refresh JWT; the token body itself is
// never stored. Every mutation runs in one tenant-tagged transaction, so a
// session is never committed without its first token, and revoking a session
// revokes its tokens in the same unit.
//
// # What this package must NOT do
//
//   - Import clinicauth, jwt or flows (no upward imports).
//   - Decide whether a caller may revoke a session; handlers and the engine do.
//   - Delete rows. Revocation and expiry are logical.
package session
