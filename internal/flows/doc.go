// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunLogin, RunRefresh, RunLogout, RunConfirmPasswordReset,
// etc.) accepts a typed dependency struct and returns results without
// side-effects beyond those dependencies. Flows bind the tenant onto the
// context before any tenant-scoped dependency is called, so stores only ever
// see requests for one clinic.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the user and session stores, the JWT
// manager, the security monitor, the eligibility engine, audit and metrics.
// They do NOT own any of these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import clinicauth (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
