package tenant

import (
	"context"
	"errors"
)

// ErrContextMissing is returned when a tenant-scoped operation runs without
// a bound tenant.
var ErrContextMissing = errors.New("tenant context missing")

type idContextKey struct{}
type slugContextKey struct{}

// WithID binds tenantID to ctx for the lifetime of the request.
func WithID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, idContextKey{}, tenantID)
}

// WithSlug records the resolved slug alongside the id.
func WithSlug(ctx context.Context, slug string) context.Context {
	return context.WithValue(ctx, slugContextKey{}, slug)
}

// IDFromContext returns the bound tenant id. An empty value is reported as
// unbound.
func IDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, _ := ctx.Value(idContextKey{}).(string)
	if id == "" {
		return "", false
	}
	return id, true
}

// MustID returns the bound tenant id or ErrContextMissing.
func MustID(ctx context.Context) (string, error) {
	id, ok := IDFromContext(ctx)
	if !ok {
		return "", ErrContextMissing
	}
	return id, nil
}

// SlugFromContext returns the resolved slug, if any.
func SlugFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	slug, _ := ctx.Value(slugContextKey{}).(string)
	return slug
}
