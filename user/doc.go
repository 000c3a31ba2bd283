// Package user holds the clinic user aggregate and its Postgres store.
//
// The lockout state, the password reset flags and the password history are
// typed sub-records of [User] and map onto their own columns and table, so
// nothing reads them out of an untyped settings bag.
//
// Every method except [PgStore.LookupIdentity] runs inside a tenant-tagged
// transaction and fails with tenant.ErrContextMissing when no tenant is
// bound to the context.
package user
