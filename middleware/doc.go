// Package middleware exposes HTTP guards built on clinicauth.Engine
// validation.
//
// # Guards
//
//   - [Guard] validates with an explicit route mode.
//   - [RequireJWTOnly] verifies the signature and claims only.
//   - [RequireStrict] also requires the token's session to be active.
//   - [RequireCapability] rejects callers whose role lacks a capability.
//
// A successful guard stores the *clinicauth.AuthResult in the request
// context and binds the token's tenant, so handlers run scoped to the
// caller's practice even when the request carried no tenant header.
//
// This package translates HTTP semantics into Engine calls. It does not
// parse tokens or reach storage itself.
package middleware
