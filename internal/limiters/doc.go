// Package limiters holds the account-protection policies of clinicauth.
//
//   - [LockoutMonitor] locks accounts from stored login attempts: 5 failures
//     in 30 minutes lock for 30 minutes, 10 in an hour lock immediately as
//     suspicious activity.
//   - [PasswordResetLimiter] throttles reset requests per email and per IP
//     with Redis fixed windows.
//
// Both are nil-safe: calling any method on a nil receiver allows the action.
//
// # What this package must NOT do
//
//   - Import clinicauth or flows.
//   - Decide the HTTP outcome of a lock; flows map it to errors.
package limiters
