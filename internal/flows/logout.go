package flows

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/clinicauth/internal/audit"
	"github.com/MrEthical07/clinicauth/jwt"
	"github.com/MrEthical07/clinicauth/session"
	"github.com/MrEthical07/clinicauth/user"
	"go.uber.org/zap"
)

// SessionErrors carries host-level sentinel errors used by the logout and
// session management flows.
type SessionErrors struct {
	EngineNotReady  error
	InvalidInput    error
	Forbidden       error
	SessionNotFound error
	UserNotFound    error
}

// SessionDeps captures logout and session management dependencies. Every
// call runs in the tenant bound to ctx by the bearer guard.
type SessionDeps struct {
	ParseRefresh       func(string) (*jwt.RefreshClaims, error)
	RevokeToken        func(ctx context.Context, jti string) (bool, error)
	RevokeSession      func(ctx context.Context, sessionID, userID, reason string) (session.Revoked, error)
	RevokeAllForUser   func(ctx context.Context, userID, excludeSessionID, reason string) (session.Revoked, error)
	ListActiveSessions func(ctx context.Context, userID string) ([]session.SessionInfo, error)
	GetUser            func(ctx context.Context, userID string) (user.User, error)

	Deny      func(sentinel error, reason string) error
	EmitAudit func(context.Context, audit.Event)
	Warn      func(string, ...zap.Field)
	Errors    SessionErrors
}

func (d *SessionDeps) fill() {
	if d.EmitAudit == nil {
		d.EmitAudit = func(context.Context, audit.Event) {}
	}
	if d.Warn == nil {
		d.Warn = func(string, ...zap.Field) {}
	}
	if d.Deny == nil {
		d.Deny = func(sentinel error, _ string) error { return sentinel }
	}
}

// Caller identifies the authenticated user of a request.
type Caller struct {
	UserID    string
	TenantID  string
	SessionID string
	IP        string
}

// RunLogout revokes the session of the presented refresh token, or the
// caller's own session when no refresh token is given. A refresh token that
// no longer parses falls back to the caller's session.
func RunLogout(ctx context.Context, caller Caller, refreshToken string, deps SessionDeps) (session.Revoked, error) {
	deps.fill()
	if deps.RevokeSession == nil || deps.RevokeToken == nil || deps.ParseRefresh == nil {
		return session.Revoked{}, deps.Errors.EngineNotReady
	}

	sessionID, jti := caller.SessionID, ""
	if refreshToken != "" {
		claims, err := deps.ParseRefresh(refreshToken)
		switch {
		case err != nil:
			deps.Warn("logout with unusable refresh token, revoking bearer session", zap.Error(err))
		case claims.Subject != caller.UserID:
			return session.Revoked{}, deps.Deny(deps.Errors.Forbidden, "Refresh token belongs to another user")
		default:
			sessionID, jti = claims.SessionID, claims.ID
		}
	}

	out, err := deps.RevokeSession(ctx, sessionID, caller.UserID, session.ReasonUserLogout)
	if err != nil {
		return session.Revoked{}, err
	}
	if out.Sessions == 0 && jti != "" {
		revoked, err := deps.RevokeToken(ctx, jti)
		if err != nil {
			return session.Revoked{}, err
		}
		if revoked {
			out.Tokens++
		}
	}

	deps.EmitAudit(ctx, audit.Event{
		EventType: audit.EventLogoutSession,
		Severity:  audit.SeverityInfo,
		UserID:    caller.UserID,
		TenantID:  caller.TenantID,
		SessionID: sessionID,
		IP:        caller.IP,
		Success:   true,
		Metadata:  revokedMetadata(out),
	})
	return out, nil
}

// RunLogoutAll revokes every session and token of the caller, keeping the
// current session when keepCurrent is set.
func RunLogoutAll(ctx context.Context, caller Caller, keepCurrent bool, deps SessionDeps) (session.Revoked, error) {
	deps.fill()
	if deps.RevokeAllForUser == nil {
		return session.Revoked{}, deps.Errors.EngineNotReady
	}
	exclude := ""
	if keepCurrent {
		exclude = caller.SessionID
	}
	out, err := deps.RevokeAllForUser(ctx, caller.UserID, exclude, session.ReasonLogoutAll)
	if err != nil {
		return session.Revoked{}, err
	}
	deps.EmitAudit(ctx, audit.Event{
		EventType: audit.EventLogoutAll,
		Severity:  audit.SeverityInfo,
		UserID:    caller.UserID,
		TenantID:  caller.TenantID,
		SessionID: caller.SessionID,
		IP:        caller.IP,
		Success:   true,
		Metadata:  revokedMetadata(out),
	})
	return out, nil
}

// RunListSessions lists the caller's active sessions and marks the current
// one.
func RunListSessions(ctx context.Context, caller Caller, deps SessionDeps) ([]session.SessionInfo, error) {
	deps.fill()
	if deps.ListActiveSessions == nil {
		return nil, deps.Errors.EngineNotReady
	}
	sessions, err := deps.ListActiveSessions(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].IsCurrent = sessions[i].SessionID == caller.SessionID
	}
	return sessions, nil
}

// RunRevokeSession revokes one of the caller's other sessions. The current
// session is refused; callers log out instead.
func RunRevokeSession(ctx context.Context, caller Caller, sessionID string, deps SessionDeps) (session.Revoked, error) {
	deps.fill()
	if deps.RevokeSession == nil {
		return session.Revoked{}, deps.Errors.EngineNotReady
	}
	if sessionID == "" {
		return session.Revoked{}, deps.Deny(deps.Errors.InvalidInput, "Session id is required")
	}
	if sessionID == caller.SessionID {
		return session.Revoked{}, deps.Deny(deps.Errors.InvalidInput, "Cannot revoke current session. Use logout instead.")
	}
	out, err := deps.RevokeSession(ctx, sessionID, caller.UserID, session.ReasonRevokedByUser)
	if err != nil {
		return session.Revoked{}, err
	}
	if out.Sessions == 0 {
		return session.Revoked{}, deps.Errors.SessionNotFound
	}
	deps.EmitAudit(ctx, audit.Event{
		EventType: audit.EventSessionRevoked,
		Severity:  audit.SeverityInfo,
		UserID:    caller.UserID,
		TenantID:  caller.TenantID,
		SessionID: sessionID,
		IP:        caller.IP,
		Success:   true,
		Metadata:  revokedMetadata(out),
	})
	return out, nil
}

// RunRevokeOthers revokes every session of the caller except the current one.
func RunRevokeOthers(ctx context.Context, caller Caller, deps SessionDeps) (session.Revoked, error) {
	deps.fill()
	if deps.RevokeAllForUser == nil {
		return session.Revoked{}, deps.Errors.EngineNotReady
	}
	out, err := deps.RevokeAllForUser(ctx, caller.UserID, caller.SessionID, session.ReasonRevokeOthers)
	if err != nil {
		return session.Revoked{}, err
	}
	deps.EmitAudit(ctx, audit.Event{
		EventType: audit.EventSessionRevoked,
		Severity:  audit.SeverityInfo,
		UserID:    caller.UserID,
		TenantID:  caller.TenantID,
		SessionID: caller.SessionID,
		IP:        caller.IP,
		Success:   true,
		Metadata:  revokedMetadata(out),
	})
	return out, nil
}

// RunListUserSessions lists another user's sessions for an administrator.
// The user lookup runs under the caller's tenant, so users of other tenants
// are reported as not found.
func RunListUserSessions(ctx context.Context, targetUserID string, deps SessionDeps) ([]session.SessionInfo, error) {
	deps.fill()
	if deps.ListActiveSessions == nil || deps.GetUser == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if _, err := lookupTarget(ctx, targetUserID, deps); err != nil {
		return nil, err
	}
	return deps.ListActiveSessions(ctx, targetUserID)
}

// RunForceLogout revokes every session of targetUserID on behalf of an
// administrator.
func RunForceLogout(ctx context.Context, admin Caller, targetUserID, reason string, deps SessionDeps) (session.Revoked, error) {
	deps.fill()
	if deps.RevokeAllForUser == nil || deps.GetUser == nil {
		return session.Revoked{}, deps.Errors.EngineNotReady
	}
	if _, err := lookupTarget(ctx, targetUserID, deps); err != nil {
		return session.Revoked{}, err
	}
	out, err := deps.RevokeAllForUser(ctx, targetUserID, "", session.ReasonAdminForceLogout)
	if err != nil {
		return session.Revoked{}, err
	}
	md := revokedMetadata(out)
	md["admin_id"] = admin.UserID
	if reason != "" {
		md["reason"] = reason
	}
	deps.EmitAudit(ctx, audit.Event{
		EventType:   audit.EventForceLogout,
		Severity:    audit.SeverityHigh,
		Description: "sessions force-revoked by administrator",
		UserID:      targetUserID,
		TenantID:    admin.TenantID,
		IP:          admin.IP,
		Success:     true,
		Metadata:    md,
	})
	return out, nil
}

func lookupTarget(ctx context.Context, userID string, deps SessionDeps) (user.User, error) {
	if userID == "" {
		return user.User{}, deps.Deny(deps.Errors.InvalidInput, "User id is required")
	}
	u, err := deps.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, deps.Errors.UserNotFound
		}
		return user.User{}, err
	}
	return u, nil
}

func revokedMetadata(r session.Revoked) map[string]string {
	return map[string]string{
		"sessions_revoked": strconv.Itoa(r.Sessions),
		"tokens_revoked":   strconv.Itoa(r.Tokens),
	}
}
