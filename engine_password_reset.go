package clinicauth

import (
	"context"
)

// RequestPasswordReset issues a reset token for email and hands it to the
// configured ResetDelivery. It reports success for unknown and inactive
// users alike, and for throttled requests.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil || !e.flow.Initialized() {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return deny(ErrForbidden, "Password reset is disabled", 0)
	}
	return e.flow.RequestPasswordReset(ctx, email, clientIPFromContext(ctx))
}

// ConfirmPasswordReset sets newPassword using a reset token and revokes every
// session of the user. A password rejected by policy or history leaves the
// token usable.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil || !e.flow.Initialized() {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return deny(ErrForbidden, "Password reset is disabled", 0)
	}
	return e.flow.ConfirmPasswordReset(ctx, token, newPassword, clientIPFromContext(ctx))
}

// ChangePassword replaces the caller's password after verifying the current
// one. Every other session of the caller is revoked.
func (e *Engine) ChangePassword(ctx context.Context, auth *AuthResult, currentPassword, newPassword string) (LogoutResult, error) {
	ctx, caller, err := e.callerScope(ctx, auth)
	if err != nil {
		return LogoutResult{}, err
	}
	out, err := e.flow.ChangePassword(ctx, caller, currentPassword, newPassword)
	if err != nil {
		return LogoutResult{}, err
	}
	return logoutResult(out), nil
}
