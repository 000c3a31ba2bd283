// Package stores provides the Postgres stores behind the security monitor,
// the security event log and password reset.
//
// # Design
//
// Every store runs its statements inside tenant.InTx or tenant.InTxFor, so
// row-level security scopes them to one tenant. Login attempts and security
// events are append-only. Reset tokens are stored as SHA-256 digests and are
// consumed by a conditional update, so a token is single-use even under
// concurrent confirmations.
//
// # What this package must NOT do
//
//   - Import clinicauth or internal/flows.
//   - Log or store plaintext reset tokens.
//   - Make authentication decisions; flow functions decide consequences.
package stores
