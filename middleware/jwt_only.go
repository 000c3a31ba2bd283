package middleware

import (
	"net/http"

	"github.com/MrEthical07/clinicauth"
)

// RequireJWTOnly guards with [clinicauth.ModeJWTOnly]: signature, claims and
// tenant binding are checked, the session table is not read.
func RequireJWTOnly(engine Validator, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine, clinicauth.ModeJWTOnly, opts...)
}
