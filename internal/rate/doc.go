// Package rate provides the Redis-backed fixed-window limiter used in front of
// login and refresh.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - ca:rl:login:   login requests per client IP
//   - ca:rl:refresh: refreshes per session
//
// # What this package must NOT do
//
//   - Implement account policies such as lockout (those live in internal/limiters).
//   - Be imported outside the clinicauth module.
package rate
