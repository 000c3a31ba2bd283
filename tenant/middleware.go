package tenant

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	HeaderTenantID   = "X-Tenant-ID"
	HeaderTenantSlug = "X-Tenant-Slug"
)

// DefaultBypassPrefixes are the paths that never resolve a tenant.
var DefaultBypassPrefixes = []string{"/health", "/auth/", "/tenants/register", "/password-reset", "/metrics"}

// MiddlewareConfig wires the HTTP binding.
type MiddlewareConfig struct {
	Resolver       *Resolver
	Logger         *zap.Logger
	BypassPrefixes []string
	// WriteError renders resolution failures. Defaults to plain text.
	WriteError func(http.ResponseWriter, *http.Request, error)
	// OnConflict is called when a header overrode a disagreeing subdomain.
	OnConflict func(ctx context.Context, res Resolution)
}

// Middleware resolves the tenant of each request and binds it to the
// request context. Requests without any tenant metadata pass through
// unbound; authenticated routes then bind the tenant from the token.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BypassPrefixes == nil {
		cfg.BypassPrefixes = DefaultBypassPrefixes
	}
	if cfg.WriteError == nil {
		cfg.WriteError = defaultWriteError
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypassed(r.URL.Path, cfg.BypassPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			res, err := cfg.Resolver.Resolve(r.Context(), Metadata{
				HeaderID:   r.Header.Get(HeaderTenantID),
				HeaderSlug: r.Header.Get(HeaderTenantSlug),
				Host:       r.Host,
			})
			if errors.Is(err, ErrNoIdentity) {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				cfg.Logger.Info("tenant resolution failed",
					zap.String("path", r.URL.Path),
					zap.String("host", r.Host),
					zap.Error(err))
				cfg.WriteError(w, r, err)
				return
			}

			ctx := WithSlug(WithID(r.Context(), res.Tenant.ID), res.Tenant.Slug)
			if res.Conflict {
				cfg.Logger.Warn("tenant header disagrees with subdomain, header wins",
					zap.String("tenant_id", res.Tenant.ID),
					zap.String("source", string(res.Source)),
					zap.String("subdomain", res.Subdomain))
				if cfg.OnConflict != nil {
					cfg.OnConflict(ctx, res)
				}
			}

			w.Header().Set(HeaderTenantID, res.Tenant.ID)
			w.Header().Set(HeaderTenantSlug, res.Tenant.Slug)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bypassed(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == strings.TrimSuffix(p, "/") || strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func defaultWriteError(w http.ResponseWriter, _ *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "tenant not found", http.StatusNotFound)
	case errors.Is(err, ErrInactive):
		http.Error(w, "tenant inactive", http.StatusForbidden)
	default:
		http.Error(w, "tenant resolution failed", http.StatusInternalServerError)
	}
}
