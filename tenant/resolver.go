package tenant

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no tenant matches the request metadata.
	ErrNotFound = errors.New("tenant not found")
	// ErrInactive is returned for a tenant whose is_active flag is off.
	ErrInactive = errors.New("tenant inactive")
	// ErrNoIdentity is returned when the request carries no tenant metadata.
	ErrNoIdentity = errors.New("no tenant identity in request")
)

// Store looks tenants up outside any tenant binding. The tenants registry
// is the one table that is not row-level secured.
type Store interface {
	GetByID(ctx context.Context, id string) (Tenant, error)
	GetBySlug(ctx context.Context, slug string) (Tenant, error)
}

// Source names which piece of request metadata identified the tenant.
type Source string

const (
	SourceHeaderID   Source = "header_id"
	SourceHeaderSlug Source = "header_slug"
	SourceSubdomain  Source = "subdomain"
	SourceLoginSlug  Source = "login_slug"
)

// Metadata is the tenant-identifying part of a request.
type Metadata struct {
	HeaderID   string
	HeaderSlug string
	Host       string
}

// Resolution is the outcome of a successful Resolve.
type Resolution struct {
	Tenant Tenant
	Source Source
	// Subdomain is the slug derived from Host, if any, even when a header won.
	Subdomain string
	// Conflict is set when a header won over a subdomain naming another tenant.
	Conflict bool
}

var ignoredSubdomains = map[string]struct{}{
	"www": {},
	"api": {},
}

// Resolver applies header > slug > subdomain precedence.
type Resolver struct {
	store Store
}

// NewResolver returns a resolver over store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve identifies exactly one active tenant from md.
func (r *Resolver) Resolve(ctx context.Context, md Metadata) (Resolution, error) {
	sub := SubdomainOf(md.Host)
	headerID := strings.TrimSpace(md.HeaderID)
	headerSlug := strings.TrimSpace(md.HeaderSlug)

	var (
		t   Tenant
		src Source
		err error
	)
	switch {
	case headerID != "":
		src = SourceHeaderID
		t, err = r.byIDOrSlug(ctx, headerID)
	case headerSlug != "":
		src = SourceHeaderSlug
		t, err = r.store.GetBySlug(ctx, strings.ToLower(headerSlug))
	case sub != "":
		src = SourceSubdomain
		t, err = r.store.GetBySlug(ctx, sub)
	default:
		return Resolution{}, ErrNoIdentity
	}
	if err != nil {
		return Resolution{}, err
	}
	if !t.IsActive {
		return Resolution{}, ErrInactive
	}

	res := Resolution{Tenant: t, Source: src, Subdomain: sub}
	if src != SourceSubdomain && sub != "" && !strings.EqualFold(sub, t.Slug) {
		res.Conflict = true
	}
	return res, nil
}

// ResolveSlug resolves a login-form tenant slug.
func (r *Resolver) ResolveSlug(ctx context.Context, slug string) (Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return Tenant{}, ErrNoIdentity
	}
	t, err := r.store.GetBySlug(ctx, slug)
	if err != nil {
		return Tenant{}, err
	}
	if !t.IsActive {
		return Tenant{}, ErrInactive
	}
	return t, nil
}

// byIDOrSlug treats a header value that is not a known tenant id as a slug.
func (r *Resolver) byIDOrSlug(ctx context.Context, value string) (Tenant, error) {
	if _, perr := uuid.Parse(value); perr == nil {
		t, err := r.store.GetByID(ctx, value)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Tenant{}, err
		}
	}
	return r.store.GetBySlug(ctx, strings.ToLower(value))
}

// SubdomainOf returns the leftmost label of host when host has at least
// three labels and that label is not a shared prefix such as www or api.
func SubdomainOf(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if net.ParseIP(host) != nil {
		return ""
	}
	labels := strings.Split(strings.ToLower(host), ".")
	if len(labels) < 3 {
		return ""
	}
	if _, skip := ignoredSubdomains[labels[0]]; skip {
		return ""
	}
	return labels[0]
}
