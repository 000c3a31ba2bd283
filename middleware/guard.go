package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/clinicauth"
	"github.com/MrEthical07/clinicauth/permission"
	"github.com/MrEthical07/clinicauth/tenant"
)

type authResultContextKey struct{}

// ErrorWriter renders a rejected request.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Option customises a guard.
type Option func(*options)

type options struct {
	writeError ErrorWriter
}

// WithErrorWriter replaces the default JSON error body.
func WithErrorWriter(fn ErrorWriter) Option {
	return func(o *options) {
		if fn != nil {
			o.writeError = fn
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{writeError: WriteError}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// AuthResultFromContext returns the identity stored by a guard.
func AuthResultFromContext(ctx context.Context) (*clinicauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*clinicauth.AuthResult)
	return res, ok
}

// WithAuthResult stores res the way a guard does. Useful in handler tests.
func WithAuthResult(ctx context.Context, res *clinicauth.AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// Validator checks access tokens. *clinicauth.Engine satisfies it.
type Validator interface {
	Validate(ctx context.Context, token string, routeMode clinicauth.RouteMode) (*clinicauth.AuthResult, error)
}

// Guard validates the bearer token of each request with routeMode.
func Guard(engine Validator, routeMode clinicauth.RouteMode, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				o.writeError(w, r, clinicauth.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				o.writeError(w, r, clinicauth.ErrUnauthorized)
				return
			}

			res, err := engine.Validate(r.Context(), token, routeMode)
			if err != nil {
				o.writeError(w, r, err)
				return
			}

			ctx := WithAuthResult(r.Context(), res)
			ctx = tenant.WithID(ctx, res.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability must run behind a guard. Requests without an identity
// get 401, identities whose role lacks c get 403.
func RequireCapability(c permission.Capability, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				o.writeError(w, r, clinicauth.ErrUnauthorized)
				return
			}
			if !res.Can(c) {
				o.writeError(w, r, &clinicauth.DeniedError{
					Kind:   clinicauth.ErrForbidden,
					Reason: "Permission required: " + c.String(),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes err as {"error","detail"} with the status from
// clinicauth.HTTPStatus. A retry delay becomes a Retry-After header.
func WriteError(w http.ResponseWriter, _ *http.Request, err error) {
	status := clinicauth.HTTPStatus(err)
	if retry := clinicauth.RetryAfter(err); retry > 0 {
		secs := int(retry.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:  clinicauth.PublicMessage(err),
		Detail: clinicauth.Reason(err),
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
