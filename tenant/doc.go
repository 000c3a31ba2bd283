// Package tenant resolves the clinic a request belongs to and binds it to
// every database transaction opened on that request's behalf.
//
// # Binding model
//
// The tenant id travels in context.Context and nowhere else. [InTx] reads
// it, opens a transaction and runs set_config('app.tenant_id', id, true)
// before any caller query. The setting is transaction-local, so commit or
// rollback clears it and a pooled connection never carries it into the next
// transaction. A context without a tenant is an error; there is no system
// default.
//
// Background work must call [InTxFor] with an explicit id. It must not reuse
// a request context that may already be finished.
//
// # What this package must NOT do
//
//   - Fall back to an unscoped query when the tenant is missing.
//   - Store the tenant id in a package-level variable.
package tenant
