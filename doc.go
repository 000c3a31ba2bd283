// Package clinicauth is the authentication core of a multi-tenant dental
// practice platform. Every practice (tenant) shares one Postgres database
// isolated by row-level security and one redis deployment for throttles.
//
// An [Engine] logs staff in with email and password, issues short-lived
// access JWTs and database-tracked refresh tokens, validates bearer tokens
// per route, and runs the password reset, password change and user creation
// flows. Engine methods are safe for concurrent use once [Builder.Build]
// returns.
//
// # Architecture boundaries
//
// clinicauth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types. Flow orchestration, throttles, audit dispatch and the
// auxiliary stores live under internal/. Domain packages (tenant, user,
// session, jwt, password, eligibility, permission) own their data and
// never import clinicauth.
//
// # Tenant isolation
//
// Every tenant-scoped query runs in a transaction that first sets
// app.tenant_id, see [tenant.InTx]. Session and account operations take the
// caller's [AuthResult] and refuse a request bound to a different tenant.
//
// # Validation modes
//
// [ModeJWTOnly] trusts signature and expiry and touches no backend.
// [ModeStrict] also requires the session row to be active, so revoked
// sessions fail before their access tokens expire.
package clinicauth
