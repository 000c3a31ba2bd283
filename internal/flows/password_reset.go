package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/clinicauth/internal/audit"
	"github.com/MrEthical07/clinicauth/internal/stores"
	"github.com/MrEthical07/clinicauth/password"
	"github.com/MrEthical07/clinicauth/session"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/MrEthical07/clinicauth/user"
	"go.uber.org/zap"
)

// PasswordMetrics carries metric IDs needed by the password flows.
type PasswordMetrics struct {
	PasswordResetRequest        int
	PasswordResetConfirmSuccess int
	PasswordResetConfirmFailure int
	PasswordChangeSuccess       int
	PasswordChangeFailure       int
}

// PasswordErrors carries host-level sentinel errors used by the password
// flows.
type PasswordErrors struct {
	EngineNotReady     error
	InvalidInput       error
	InvalidCredentials error
	PasswordPolicy     error
	PasswordReuse      error
	ResetTokenInvalid  error
	ResetRateLimited   error
	UserNotFound       error
}

// PasswordDeps captures password reset and change dependencies.
type PasswordDeps struct {
	Now          func() time.Time
	ResetTTL     time.Duration
	HistoryLimit int

	ThrottleRequest func(ctx context.Context, email, ip string) error
	ThrottleConfirm func(ctx context.Context, ip string) error

	LookupIdentity func(ctx context.Context, email string) (user.Identity, error)
	GetUser        func(ctx context.Context, userID string) (user.User, error)

	NewResetToken      func() (string, error)
	HashResetToken     func(token string) string
	CreateResetToken   func(ctx context.Context, digest, userID string, expiresAt, now time.Time) error
	TenantOfResetToken func(ctx context.Context, digest string) (string, error)
	PeekResetToken     func(ctx context.Context, digest string, now time.Time) (string, error)
	ConsumeResetToken  func(ctx context.Context, digest string, now time.Time) (string, error)
	// DeliverResetToken hands the plaintext token to the mail collaborator.
	DeliverResetToken func(ctx context.Context, u user.User, token string, expiresAt time.Time) error

	ValidatePassword func(ctx context.Context, candidate string) (bool, []password.Reason)
	PasswordHistory  func(ctx context.Context, userID string, limit int) ([]user.PasswordHistoryEntry, error)
	CheckHistory     func(candidate string, hashes []string, limit int) error
	VerifyPassword   func(password, encodedHash string) (bool, error)
	HashPassword     func(string) (string, error)
	UpdatePassword   func(ctx context.Context, userID, newHash string, changedAt time.Time, keep int) error
	RevokeAllForUser func(ctx context.Context, userID, excludeSessionID, reason string) (session.Revoked, error)
	// Atomic runs fn in one tenant transaction that store calls made with
	// fn's ctx join. Nil runs fn directly.
	Atomic func(ctx context.Context, fn func(ctx context.Context) error) error

	Deny      func(sentinel error, reason string) error
	MetricInc func(int)
	EmitAudit func(context.Context, audit.Event)
	Warn      func(string, ...zap.Field)

	Metrics PasswordMetrics
	Errors  PasswordErrors
}

func (d *PasswordDeps) fill() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.ResetTTL <= 0 {
		d.ResetTTL = 24 * time.Hour
	}
	if d.HistoryLimit <= 0 {
		d.HistoryLimit = 5
	}
	if d.MetricInc == nil {
		d.MetricInc = func(int) {}
	}
	if d.EmitAudit == nil {
		d.EmitAudit = func(context.Context, audit.Event) {}
	}
	if d.Warn == nil {
		d.Warn = func(string, ...zap.Field) {}
	}
	if d.Deny == nil {
		d.Deny = func(sentinel error, _ string) error { return sentinel }
	}
	if d.Atomic == nil {
		d.Atomic = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
	}
}

// RunRequestPasswordReset issues a reset token for an active user. Unknown
// emails, inactive users and throttled requests all return nil so the
// caller cannot tell them apart.
func RunRequestPasswordReset(ctx context.Context, email, ip string, deps PasswordDeps) error {
	deps.fill()
	if deps.LookupIdentity == nil ||
		deps.GetUser == nil ||
		deps.NewResetToken == nil ||
		deps.HashResetToken == nil ||
		deps.CreateResetToken == nil {
		return deps.Errors.EngineNotReady
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return deps.Deny(deps.Errors.InvalidInput, "Valid email address is required")
	}
	deps.MetricInc(deps.Metrics.PasswordResetRequest)

	if deps.ThrottleRequest != nil {
		if err := deps.ThrottleRequest(ctx, email, ip); err != nil {
			deps.Warn("password reset request throttled", zap.String("ip", ip), zap.Error(err))
			return nil
		}
	}

	id, err := deps.LookupIdentity(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("password reset: lookup identity: %w", err)
	}
	ctx = tenant.WithID(ctx, id.TenantID)
	u, err := deps.GetUser(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("password reset: load user: %w", err)
	}
	if !u.IsActive {
		return nil
	}

	token, err := deps.NewResetToken()
	if err != nil {
		return fmt.Errorf("password reset: generate token: %w", err)
	}
	now := deps.Now()
	expiresAt := now.Add(deps.ResetTTL)
	if err := deps.CreateResetToken(ctx, deps.HashResetToken(token), u.ID, expiresAt, now); err != nil {
		return fmt.Errorf("password reset: store token: %w", err)
	}
	if deps.DeliverResetToken != nil {
		if err := deps.DeliverResetToken(ctx, u, token, expiresAt); err != nil {
			deps.Warn("password reset token not delivered", zap.String("user_id", u.ID), zap.Error(err))
		}
	}

	deps.EmitAudit(ctx, audit.Event{
		EventType:   audit.EventPasswordResetRequest,
		Severity:    audit.SeverityMedium,
		Description: "password reset requested",
		UserID:      u.ID,
		TenantID:    u.TenantID,
		IP:          ip,
		Success:     true,
	})
	return nil
}

// RunConfirmPasswordReset sets a new password with a reset token. The token
// is consumed only after the new password passes policy and history checks,
// so a rejected password leaves it usable. All sessions are revoked.
func RunConfirmPasswordReset(ctx context.Context, token, newPassword, ip string, deps PasswordDeps) error {
	deps.fill()
	if deps.HashResetToken == nil ||
		deps.TenantOfResetToken == nil ||
		deps.PeekResetToken == nil ||
		deps.ConsumeResetToken == nil ||
		deps.GetUser == nil ||
		deps.HashPassword == nil ||
		deps.UpdatePassword == nil ||
		deps.RevokeAllForUser == nil {
		return deps.Errors.EngineNotReady
	}

	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return deps.Deny(deps.Errors.InvalidInput, "Token and new password are required")
	}
	if deps.ThrottleConfirm != nil {
		if err := deps.ThrottleConfirm(ctx, ip); err != nil {
			return deps.Deny(deps.Errors.ResetRateLimited, "Too many reset attempts. Please try again later.")
		}
	}

	failed := func(tenantID, userID, code string, cause error) error {
		deps.MetricInc(deps.Metrics.PasswordResetConfirmFailure)
		if tenantID != "" {
			deps.EmitAudit(ctx, audit.Event{
				EventType: audit.EventPasswordResetInvalid,
				Severity:  audit.SeverityMedium,
				UserID:    userID,
				TenantID:  tenantID,
				IP:        ip,
				Error:     code,
			})
		}
		return cause
	}

	digest := deps.HashResetToken(token)
	tenantID, err := deps.TenantOfResetToken(ctx, digest)
	if err != nil {
		if errors.Is(err, stores.ErrResetTokenInvalid) {
			return failed("", "", audit.ErrCodeTokenInvalid, deps.Deny(deps.Errors.ResetTokenInvalid, "Invalid or expired reset token"))
		}
		return fmt.Errorf("password reset: lookup token: %w", err)
	}
	ctx = tenant.WithID(ctx, tenantID)

	now := deps.Now()
	userID, err := deps.PeekResetToken(ctx, digest, now)
	if err != nil {
		if errors.Is(err, stores.ErrResetTokenInvalid) {
			return failed(tenantID, "", audit.ErrCodeTokenInvalid, deps.Deny(deps.Errors.ResetTokenInvalid, "Invalid or expired reset token"))
		}
		return fmt.Errorf("password reset: read token: %w", err)
	}

	u, err := deps.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return failed(tenantID, userID, audit.ErrCodeTokenInvalid, deps.Deny(deps.Errors.ResetTokenInvalid, "Invalid or expired reset token"))
		}
		return fmt.Errorf("password reset: load user: %w", err)
	}

	newHash, err := checkNewPassword(ctx, u, newPassword, deps)
	if err != nil {
		return failed(tenantID, u.ID, codeOf(err, deps.Errors), err)
	}

	// The token is spent only if the password change and the revocation
	// commit with it.
	var revoked session.Revoked
	err = deps.Atomic(ctx, func(ctx context.Context) error {
		if _, err := deps.ConsumeResetToken(ctx, digest, now); err != nil {
			if errors.Is(err, stores.ErrResetTokenInvalid) {
				return err
			}
			return fmt.Errorf("password reset: consume token: %w", err)
		}
		if err := deps.UpdatePassword(ctx, u.ID, newHash, now, deps.HistoryLimit); err != nil {
			return fmt.Errorf("password reset: update password: %w", err)
		}
		revoked, err = deps.RevokeAllForUser(ctx, u.ID, "", session.ReasonPasswordReset)
		if err != nil {
			return fmt.Errorf("password reset: revoke sessions: %w", err)
		}
		return nil
	})
	if errors.Is(err, stores.ErrResetTokenInvalid) {
		return failed(tenantID, u.ID, audit.ErrCodeTokenInvalid, deps.Deny(deps.Errors.ResetTokenInvalid, "Invalid or expired reset token"))
	}
	if err != nil {
		return err
	}

	deps.MetricInc(deps.Metrics.PasswordResetConfirmSuccess)
	deps.EmitAudit(ctx, audit.Event{
		EventType:   audit.EventPasswordResetConfirm,
		Severity:    audit.SeverityMedium,
		Description: "password reset completed",
		UserID:      u.ID,
		TenantID:    tenantID,
		IP:          ip,
		Success:     true,
		Metadata:    revokedMetadata(revoked),
	})
	return nil
}

// RunChangePassword replaces the caller's password after verifying the
// current one, and revokes every other session of the caller.
func RunChangePassword(ctx context.Context, caller Caller, currentPassword, newPassword string, deps PasswordDeps) (session.Revoked, error) {
	deps.fill()
	if deps.GetUser == nil ||
		deps.VerifyPassword == nil ||
		deps.HashPassword == nil ||
		deps.UpdatePassword == nil ||
		deps.RevokeAllForUser == nil {
		return session.Revoked{}, deps.Errors.EngineNotReady
	}
	if currentPassword == "" || newPassword == "" {
		return session.Revoked{}, deps.Deny(deps.Errors.InvalidInput, "Current and new password are required")
	}

	failed := func(code string, cause error) (session.Revoked, error) {
		deps.MetricInc(deps.Metrics.PasswordChangeFailure)
		deps.EmitAudit(ctx, audit.Event{
			EventType: audit.EventPasswordChangeFailure,
			Severity:  audit.SeverityLow,
			UserID:    caller.UserID,
			TenantID:  caller.TenantID,
			SessionID: caller.SessionID,
			IP:        caller.IP,
			Error:     code,
		})
		return session.Revoked{}, cause
	}

	u, err := deps.GetUser(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return session.Revoked{}, deps.Errors.UserNotFound
		}
		return session.Revoked{}, fmt.Errorf("change password: load user: %w", err)
	}
	ok, err := deps.VerifyPassword(currentPassword, u.PasswordHash)
	if err != nil || !ok {
		return failed(audit.ErrCodeInvalidCredentials, deps.Deny(deps.Errors.InvalidCredentials, "Current password is incorrect"))
	}

	newHash, err := checkNewPassword(ctx, u, newPassword, deps)
	if err != nil {
		return failed(codeOf(err, deps.Errors), err)
	}

	now := deps.Now()
	if err := deps.UpdatePassword(ctx, u.ID, newHash, now, deps.HistoryLimit); err != nil {
		return session.Revoked{}, fmt.Errorf("change password: update password: %w", err)
	}
	revoked, err := deps.RevokeAllForUser(ctx, u.ID, caller.SessionID, session.ReasonPasswordChanged)
	if err != nil {
		return session.Revoked{}, fmt.Errorf("change password: revoke sessions: %w", err)
	}

	deps.MetricInc(deps.Metrics.PasswordChangeSuccess)
	deps.EmitAudit(ctx, audit.Event{
		EventType: audit.EventPasswordChanged,
		Severity:  audit.SeverityInfo,
		UserID:    u.ID,
		TenantID:  u.TenantID,
		SessionID: caller.SessionID,
		IP:        caller.IP,
		Success:   true,
		Metadata:  revokedMetadata(revoked),
	})
	return revoked, nil
}

// checkNewPassword runs the policy and reuse checks for u and returns the
// hash of the accepted candidate.
func checkNewPassword(ctx context.Context, u user.User, candidate string, deps PasswordDeps) (string, error) {
	if deps.ValidatePassword != nil {
		if ok, reasons := deps.ValidatePassword(ctx, candidate); !ok {
			return "", deps.Deny(deps.Errors.PasswordPolicy, joinReasons(reasons))
		}
	}

	if deps.CheckHistory != nil {
		hashes := []string{u.PasswordHash}
		if deps.PasswordHistory != nil {
			history, err := deps.PasswordHistory(ctx, u.ID, deps.HistoryLimit)
			if err != nil {
				return "", fmt.Errorf("load password history: %w", err)
			}
			for _, h := range history {
				hashes = append(hashes, h.Hash)
			}
		}
		if err := deps.CheckHistory(candidate, hashes, deps.HistoryLimit); err != nil {
			if errors.Is(err, password.ErrReused) {
				return "", deps.Deny(deps.Errors.PasswordReuse, "You've used this password recently. Please choose a different one.")
			}
			return "", err
		}
	}

	hash, err := deps.HashPassword(candidate)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

func joinReasons(reasons []password.Reason) string {
	msgs := make([]string, 0, len(reasons))
	for _, r := range reasons {
		msgs = append(msgs, r.Message())
	}
	return "Please check your password: " + strings.Join(msgs, "; ")
}

func codeOf(err error, errs PasswordErrors) string {
	switch {
	case errors.Is(err, errs.PasswordReuse):
		return audit.ErrCodePasswordReuse
	case errors.Is(err, errs.PasswordPolicy):
		return audit.ErrCodePasswordPolicy
	default:
		return "internal"
	}
}
