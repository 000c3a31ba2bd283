package middleware

import (
	"net/http"

	"github.com/MrEthical07/clinicauth"
)

// RequireStrict guards with [clinicauth.ModeStrict] so logged-out tokens
// are refused before they expire.
func RequireStrict(engine Validator, opts ...Option) func(http.Handler) http.Handler {
	return Guard(engine, clinicauth.ModeStrict, opts...)
}
