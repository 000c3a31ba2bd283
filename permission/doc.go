// Package permission holds the closed set of clinic roles and the fixed
// capability set each role grants.
//
// # Architecture boundaries
//
// This package is a pure in-memory table with no I/O. Role strings arrive
// from persisted user rows and from access-token claims; both are parsed
// through [ParseRole] so unknown values never reach a capability check.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import clinicauth, jwt, or session.
//   - Allow roles or capabilities to be registered at runtime.
package permission
