package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/clinicauth/internal/rate"
	"github.com/MrEthical07/clinicauth/jwt"
	"github.com/MrEthical07/clinicauth/session"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/MrEthical07/clinicauth/user"
	"go.uber.org/zap"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureNotReady
	RefreshFailureInvalid
	RefreshFailureExpired
	RefreshFailureRevoked
	RefreshFailureTenantMismatch
	RefreshFailureRateLimited
	RefreshFailureUserInactive
	RefreshFailureIssue
	RefreshFailureStore
)

// RefreshResult carries either the issued tokens or failure metadata.
// RefreshToken is empty when rotation is off.
type RefreshResult struct {
	Failure      RefreshFailureKind
	Err          error
	RetryAfter   time.Duration
	TenantID     string
	SessionID    string
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Now                func() time.Time
	ParseRefresh       func(string) (*jwt.RefreshClaims, error)
	TenantOfToken      func(ctx context.Context, jti string) (string, error)
	AllowRefresh       func(ctx context.Context, sessionID string) (time.Duration, error)
	VerifyRefreshToken func(ctx context.Context, jti, userID string) (bool, error)
	GetSession         func(ctx context.Context, sessionID string) (session.Session, error)
	GetUser            func(ctx context.Context, userID string) (user.User, error)
	RotateRefreshToken func(ctx context.Context, oldJTI, newJTI, userID, sessionID string, expiresAt time.Time) error
	TouchSession       func(ctx context.Context, sessionID string) error
	Rotate             bool
	Tokens             TokenDeps
	Warn               func(string, ...zap.Field)
}

// RunRefresh verifies a refresh token against its persisted handle and
// issues a new access token. With rotation on, the presented token is
// revoked and replaced in one transaction.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Warn == nil {
		deps.Warn = func(string, ...zap.Field) {}
	}
	if deps.ParseRefresh == nil ||
		deps.TenantOfToken == nil ||
		deps.VerifyRefreshToken == nil ||
		deps.GetSession == nil ||
		deps.GetUser == nil ||
		deps.Tokens.IssueAccess == nil ||
		(deps.Rotate && (deps.RotateRefreshToken == nil || deps.Tokens.IssueRefresh == nil)) {
		return RefreshResult{Failure: RefreshFailureNotReady}
	}

	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return RefreshResult{Failure: RefreshFailureExpired, Err: err}
		}
		return RefreshResult{Failure: RefreshFailureInvalid, Err: err}
	}
	jti, userID, sessionID := claims.ID, claims.Subject, claims.SessionID

	tenantID, err := deps.TenantOfToken(ctx, jti)
	if err != nil {
		if errors.Is(err, session.ErrTokenRevoked) {
			return RefreshResult{Failure: RefreshFailureRevoked, Err: err, SessionID: sessionID, UserID: userID}
		}
		return RefreshResult{Failure: RefreshFailureStore, Err: err, SessionID: sessionID, UserID: userID}
	}
	if bound, ok := tenant.IDFromContext(ctx); ok && bound != tenantID {
		return RefreshResult{Failure: RefreshFailureTenantMismatch, TenantID: bound, SessionID: sessionID, UserID: userID}
	}
	ctx = tenant.WithID(ctx, tenantID)
	base := RefreshResult{TenantID: tenantID, SessionID: sessionID, UserID: userID}

	fail := func(kind RefreshFailureKind, err error) RefreshResult {
		r := base
		r.Failure, r.Err = kind, err
		return r
	}

	if deps.AllowRefresh != nil {
		retry, err := deps.AllowRefresh(ctx, sessionID)
		switch {
		case errors.Is(err, rate.ErrRateLimited):
			r := fail(RefreshFailureRateLimited, err)
			r.RetryAfter = retry
			return r
		case err != nil:
			deps.Warn("refresh rate limiter unavailable, allowing", zap.Error(err))
		}
	}

	valid, err := deps.VerifyRefreshToken(ctx, jti, userID)
	if err != nil {
		return fail(RefreshFailureStore, err)
	}
	if !valid {
		return fail(RefreshFailureRevoked, session.ErrTokenRevoked)
	}

	now := deps.Now()
	sess, err := deps.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return fail(RefreshFailureRevoked, err)
		}
		return fail(RefreshFailureStore, err)
	}
	if !sess.Valid(now) || sess.UserID != userID {
		return fail(RefreshFailureRevoked, session.ErrTokenRevoked)
	}

	u, err := deps.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return fail(RefreshFailureUserInactive, err)
		}
		return fail(RefreshFailureStore, err)
	}
	if !u.IsActive {
		return fail(RefreshFailureUserInactive, nil)
	}

	access, err := deps.Tokens.IssueAccess(jwt.AccessInput{
		UserID:    u.ID,
		Email:     u.Email,
		Role:      string(u.Role),
		TenantID:  tenantID,
		SessionID: sessionID,
		LoginTime: sess.LoginTime,
	})
	if err != nil {
		return fail(RefreshFailureIssue, err)
	}

	out := base
	out.AccessToken = access
	out.ExpiresIn = deps.Tokens.AccessTTL

	if deps.Rotate {
		next, err := deps.Tokens.IssueRefresh(userID, sessionID)
		if err != nil {
			return fail(RefreshFailureIssue, err)
		}
		if err := deps.RotateRefreshToken(ctx, jti, next.JTI, userID, sessionID, next.ExpiresAt); err != nil {
			if errors.Is(err, session.ErrTokenRevoked) {
				return fail(RefreshFailureRevoked, err)
			}
			return fail(RefreshFailureStore, err)
		}
		out.RefreshToken = next.Token
	}

	if deps.TouchSession != nil {
		if err := deps.TouchSession(ctx, sessionID); err != nil {
			deps.Warn("session activity not updated", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return out
}
