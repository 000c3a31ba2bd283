package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/clinicauth/jwt"
	"github.com/MrEthical07/clinicauth/permission"
	"github.com/MrEthical07/clinicauth/session"
	"github.com/MrEthical07/clinicauth/tenant"
)

// ModeResolverConfig carries the caller's validation mode values so this
// package does not import clinicauth.
type ModeResolverConfig struct {
	ModeInherit int
	ModeJWTOnly int
	ModeStrict  int
}

// ResolveRouteMode applies a route override to the engine mode. ok is false
// for unknown values.
func ResolveRouteMode(routeMode, engineMode int, cfg ModeResolverConfig) (int, bool) {
	switch routeMode {
	case cfg.ModeInherit:
		switch engineMode {
		case cfg.ModeJWTOnly, cfg.ModeStrict:
			return engineMode, true
		default:
			return 0, false
		}
	case cfg.ModeJWTOnly:
		return cfg.ModeJWTOnly, true
	case cfg.ModeStrict:
		return cfg.ModeStrict, true
	default:
		return 0, false
	}
}

// ValidateFailureKind classifies validation failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureUnauthorized
	ValidateFailureExpired
	ValidateFailureTokenClockSkew
	ValidateFailureInvalidRouteMode
	ValidateFailureUnknownRole
	ValidateFailureTenantMismatch
	ValidateFailureSessionNotFound
)

// ValidateResult returns either claims/session success payload or classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.AccessClaims
	Role    permission.Role
	Session *session.Session
}

// ValidateDeps captures strict and jwt-only validation dependencies.
type ValidateDeps struct {
	ParseAccess      func(string) (*jwt.AccessClaims, error)
	ResolveRouteMode func(int) (int, error)
	Now              func() time.Time
	MaxClockSkew     time.Duration
	ModeJWTOnly      int
	GetSession       func(ctx context.Context, sessionID string) (session.Session, error)
}

// RunValidate verifies an access token. In strict mode the session named
// by the token must also still be active in the claimed tenant.
func RunValidate(ctx context.Context, tokenStr string, routeMode int, deps ValidateDeps) ValidateResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	claims, err := deps.ParseAccess(tokenStr)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ValidateResult{Failure: ValidateFailureExpired, Err: err}
		}
		return ValidateResult{Failure: ValidateFailureUnauthorized, Err: err}
	}
	if deps.MaxClockSkew >= 0 && claims.IssuedAt != nil {
		if claims.IssuedAt.Time.After(deps.Now().Add(deps.MaxClockSkew)) {
			return ValidateResult{Failure: ValidateFailureTokenClockSkew}
		}
	}
	role, err := permission.ParseRole(claims.Role)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureUnknownRole, Err: err}
	}
	if bound, ok := tenant.IDFromContext(ctx); ok && bound != claims.TenantID {
		return ValidateResult{Failure: ValidateFailureTenantMismatch}
	}

	effectiveMode, err := deps.ResolveRouteMode(routeMode)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureInvalidRouteMode, Err: err}
	}
	if effectiveMode == deps.ModeJWTOnly {
		return ValidateResult{Claims: claims, Role: role}
	}

	if deps.GetSession == nil {
		return ValidateResult{Failure: ValidateFailureSessionNotFound}
	}
	sess, err := deps.GetSession(tenant.WithID(ctx, claims.TenantID), claims.SessionID)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureSessionNotFound, Err: err}
	}
	if !sess.Valid(deps.Now()) || sess.UserID != claims.Subject {
		return ValidateResult{Failure: ValidateFailureSessionNotFound}
	}

	return ValidateResult{
		Claims:  claims,
		Role:    role,
		Session: &sess,
	}
}
