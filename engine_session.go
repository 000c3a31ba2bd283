package clinicauth

import (
	"context"

	internalflows "github.com/MrEthical07/clinicauth/internal/flows"
	"github.com/MrEthical07/clinicauth/permission"
	"github.com/MrEthical07/clinicauth/tenant"
)

// callerScope binds the caller's tenant to ctx. A request already bound to
// another tenant is refused.
func (e *Engine) callerScope(ctx context.Context, auth *AuthResult) (context.Context, internalflows.Caller, error) {
	if e == nil || !e.flow.Initialized() {
		return ctx, internalflows.Caller{}, ErrEngineNotReady
	}
	if auth == nil || auth.UserID == "" || auth.TenantID == "" {
		return ctx, internalflows.Caller{}, ErrUnauthorized
	}
	if bound, ok := tenant.IDFromContext(ctx); ok && bound != auth.TenantID {
		return ctx, internalflows.Caller{}, deny(ErrForbidden, "Token does not belong to this practice", 0)
	}
	caller := internalflows.Caller{
		UserID:    auth.UserID,
		TenantID:  auth.TenantID,
		SessionID: auth.SessionID,
		IP:        clientIPFromContext(ctx),
	}
	return tenant.WithID(ctx, auth.TenantID), caller, nil
}

func (e *Engine) requireCapability(auth *AuthResult, c permission.Capability) error {
	if !auth.Can(c) {
		return deny(ErrForbidden, "Permission required: "+c.String(), 0)
	}
	return nil
}

// Logout revokes the session of refreshToken, or the caller's own session
// when refreshToken is empty.
func (e *Engine) Logout(ctx context.Context, auth *AuthResult, refreshToken string) (LogoutResult, error) {
	ctx, caller, err := e.callerScope(ctx, auth)
	if err != nil {
		return LogoutResult{}, err
	}
	out, err := e.flow.Logout(ctx, caller, refreshToken)
	if err != nil {
		return LogoutResult{}, err
	}
	e.metricInc(MetricLogout)
	return logoutResult(out), nil
}

// LogoutAll revokes every session of the caller. keepCurrent spares the
// session the request was made with.
func (e *Engine) LogoutAll(ctx context.Context, auth *AuthResult, keepCurrent bool) (LogoutResult, error) {
	ctx, caller, err := e.callerScope(ctx, auth)
	if err != nil {
		return LogoutResult{}, err
	}
	out, err := e.flow.LogoutAll(ctx, caller, keepCurrent)
	if err != nil {
		return LogoutResult{}, err
	}
	e.metricInc(MetricLogoutAll)
	return logoutResult(out), nil
}

// ListSessions lists the caller's active sessions, newest activity first.
func (e *Engine) ListSessions(ctx context.Context, auth *AuthResult) ([]SessionInfo, error) {
	ctx, caller, err := e.callerScope(ctx, auth)
	if err != nil {
		return nil, err
	}
	return e.flow.ListSessions(ctx, caller)
}

// RevokeSession revokes one of the caller's other sessions.
func (e *Engine) RevokeSession(ctx context.Context, auth *AuthResult, sessionID string) (LogoutResult, error) {
	ctx, caller, err := e.callerScope(ctx, auth)
	if err != nil {
		return LogoutResult{}, err
	}
	out, err := e.flow.RevokeSession(ctx, caller, sessionID)
	if err != nil {
		return LogoutResult{}, err
	}
	e.metricInc(MetricSessionRevoked)
	return logoutResult(out), nil
}

// RevokeOtherSessions revokes every session of the caller but the current one.
func (e *Engine) RevokeOtherSessions(ctx context.Context, auth *AuthResult) (LogoutResult, error) {
	ctx, caller, err := e.callerScope(ctx, auth)
	if err != nil {
		return LogoutResult{}, err
	}
	out, err := e.flow.RevokeOthers(ctx, caller)
	if err != nil {
		return LogoutResult{}, err
	}
	if out.Sessions > 0 {
		e.metricInc(MetricSessionRevoked)
	}
	return logoutResult(out), nil
}

// ListUserSessions lists the sessions of another user of the caller's
// practice. It requires the manage_sessions capability.
func (e *Engine) ListUserSessions(ctx context.Context, auth *AuthResult, userID string) ([]SessionInfo, error) {
	ctx, _, err := e.callerScope(ctx, auth)
	if err != nil {
		return nil, err
	}
	if err := e.requireCapability(auth, permission.CapManageSessions); err != nil {
		return nil, err
	}
	return e.flow.ListUserSessions(ctx, userID)
}

// ForceLogout revokes every session of userID on behalf of an administrator
// with the manage_sessions capability.
func (e *Engine) ForceLogout(ctx context.Context, auth *AuthResult, userID, reason string) (LogoutResult, error) {
	ctx, caller, err := e.callerScope(ctx, auth)
	if err != nil {
		return LogoutResult{}, err
	}
	if err := e.requireCapability(auth, permission.CapManageSessions); err != nil {
		return LogoutResult{}, err
	}
	out, err := e.flow.ForceLogout(ctx, caller, userID, reason)
	if err != nil {
		return LogoutResult{}, err
	}
	e.metricInc(MetricForceLogout)
	return logoutResult(out), nil
}
