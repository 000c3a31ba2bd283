package clinicauth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/clinicauth/internal"
	"github.com/MrEthical07/clinicauth/internal/audit"
	internalflows "github.com/MrEthical07/clinicauth/internal/flows"
	"github.com/MrEthical07/clinicauth/internal/limiters"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/MrEthical07/clinicauth/user"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// buildFlows binds every flow to the engine's components once, at Build.
func (e *Engine) buildFlows() internalflows.Service {
	deny2 := func(sentinel error, reason string) error {
		return deny(sentinel, reason, 0)
	}
	metricInc := func(id int) {
		e.metricInc(MetricID(id))
	}
	warn := e.logger.Warn

	tokens := internalflows.TokenDeps{
		NewSessionID: uuid.NewString,
		IssueAccess:  e.jwtManager.IssueAccess,
		IssueRefresh: e.jwtManager.IssueRefresh,
		AccessTTL:    e.jwtManager.AccessTTL(),
		SessionTTL:   e.config.Session.Lifetime,
	}

	var allowLogin func(context.Context, string) (time.Duration, error)
	if e.config.RateLimit.EnableLoginThrottle {
		allowLogin = e.rateLimiter.AllowLogin
	}
	var allowRefresh func(context.Context, string) (time.Duration, error)
	if e.config.RateLimit.EnableRefreshThrottle {
		allowRefresh = e.rateLimiter.AllowRefresh
	}

	return internalflows.New(internalflows.Deps{
		Login: internalflows.LoginDeps{
			Now:               e.now,
			AllowLogin:        allowLogin,
			ResolveTenantSlug: e.resolver.ResolveSlug,
			GetTenant:         e.tenants.GetByID,
			LookupIdentity:    e.users.LookupIdentity,
			GetUser:           e.users.GetByID,
			VerifyPassword:    e.passwordHash.Verify,
			DummyHash:         e.dummyHash,
			CheckLockout:      e.lockout.CheckLockout,
			RecordAttempt:     e.lockout.RecordAttempt,
			CanAuthenticate:   e.eligibility.CanAuthenticate,
			PasswordExpired:   e.policy.IsExpired,
			CreateSession:     e.sessionStore.CreateSessionWithToken,
			DeviceInfo:        internal.DeviceFromUserAgent,
			RecordLogin:       e.users.RecordLogin,
			Tokens:            tokens,
			Deny:              deny,
			MetricInc:         metricInc,
			EmitAudit:         e.emitAudit,
			Warn:              warn,
			Metrics: internalflows.LoginMetrics{
				LoginSuccess:     int(MetricLoginSuccess),
				LoginFailure:     int(MetricLoginFailure),
				LoginRateLimited: int(MetricLoginRateLimited),
				AccountLocked:    int(MetricAccountLocked),
				SessionCreated:   int(MetricSessionCreated),
			},
			Errors: internalflows.LoginErrors{
				EngineNotReady:        ErrEngineNotReady,
				InvalidInput:          ErrInvalidInput,
				InvalidCredentials:    ErrInvalidCredentials,
				LoginRateLimited:      ErrLoginRateLimited,
				TenantNotFound:        ErrTenantNotFound,
				TenantInactive:        ErrTenantInactive,
				TenantSuspended:       ErrTenantSuspended,
				TenantCancelled:       ErrTenantCancelled,
				PaymentRequired:       ErrPaymentRequired,
				AccountLocked:         ErrAccountLocked,
				SuspiciousActivity:    ErrSuspiciousActivity,
				Forbidden:             ErrForbidden,
				PasswordResetRequired: ErrPasswordResetRequired,
			},
		},
		Refresh: internalflows.RefreshDeps{
			Now:                e.now,
			ParseRefresh:       e.jwtManager.ParseRefresh,
			TenantOfToken:      e.sessionStore.TenantOfToken,
			AllowRefresh:       allowRefresh,
			VerifyRefreshToken: e.sessionStore.VerifyRefreshToken,
			GetSession:         e.sessionStore.GetSession,
			GetUser:            e.users.GetByID,
			RotateRefreshToken: e.sessionStore.RotateRefreshToken,
			TouchSession:       e.sessionStore.TouchSession,
			Rotate:             e.config.Session.RotateRefreshTokens,
			Tokens:             tokens,
			Warn:               warn,
		},
		Validate: internalflows.ValidateDeps{
			ParseAccess: e.jwtManager.ParseAccess,
			ResolveRouteMode: func(routeMode int) (int, error) {
				mode, err := e.resolveRouteMode(RouteMode(routeMode))
				return int(mode), err
			},
			Now:          e.now,
			MaxClockSkew: e.config.JWT.MaxClockSkew,
			ModeJWTOnly:  int(ModeJWTOnly),
			GetSession:   e.sessionStore.GetSession,
		},
		Session: internalflows.SessionDeps{
			ParseRefresh:       e.jwtManager.ParseRefresh,
			RevokeToken:        e.sessionStore.RevokeToken,
			RevokeSession:      e.sessionStore.RevokeSession,
			RevokeAllForUser:   e.sessionStore.RevokeAllForUser,
			ListActiveSessions: e.sessionStore.ListActiveSessions,
			GetUser:            e.users.GetByID,
			Deny:               deny2,
			EmitAudit:          e.emitAudit,
			Warn:               warn,
			Errors: internalflows.SessionErrors{
				EngineNotReady:  ErrEngineNotReady,
				InvalidInput:    ErrInvalidInput,
				Forbidden:       ErrForbidden,
				SessionNotFound: ErrSessionNotFound,
				UserNotFound:    ErrUserNotFound,
			},
		},
		Password: internalflows.PasswordDeps{
			Now:                e.now,
			ResetTTL:           e.config.PasswordReset.ResetTTL,
			HistoryLimit:       e.config.Password.HistorySize,
			ThrottleRequest:    e.throttleResetRequest,
			ThrottleConfirm:    e.throttleResetConfirm,
			LookupIdentity:     e.users.LookupIdentity,
			GetUser:            e.users.GetByID,
			NewResetToken:      internal.NewResetToken,
			HashResetToken:     internal.HashResetToken,
			CreateResetToken:   e.resetTokens.Create,
			TenantOfResetToken: e.resetTokens.TenantOf,
			PeekResetToken:     e.resetTokens.Peek,
			ConsumeResetToken:  e.resetTokens.Consume,
			DeliverResetToken:  e.resetDelivery,
			ValidatePassword:   e.policy.Validate,
			PasswordHistory:    e.users.PasswordHistory,
			CheckHistory:       e.passwordHash.CheckHistory,
			VerifyPassword:     e.passwordHash.Verify,
			HashPassword:       e.passwordHash.Hash,
			UpdatePassword:     e.users.UpdatePassword,
			RevokeAllForUser:   e.sessionStore.RevokeAllForUser,
			Atomic:             e.atomic,
			Deny:               deny2,
			MetricInc:          metricInc,
			EmitAudit:          e.emitAudit,
			Warn:               warn,
			Metrics: internalflows.PasswordMetrics{
				PasswordResetRequest:        int(MetricPasswordResetRequest),
				PasswordResetConfirmSuccess: int(MetricPasswordResetConfirmSuccess),
				PasswordResetConfirmFailure: int(MetricPasswordResetConfirmFailure),
				PasswordChangeSuccess:       int(MetricPasswordChangeSuccess),
				PasswordChangeFailure:       int(MetricPasswordChangeFailure),
			},
			Errors: internalflows.PasswordErrors{
				EngineNotReady:     ErrEngineNotReady,
				InvalidInput:       ErrInvalidInput,
				InvalidCredentials: ErrInvalidCredentials,
				PasswordPolicy:     ErrPasswordPolicy,
				PasswordReuse:      ErrPasswordReuse,
				ResetTokenInvalid:  ErrResetTokenInvalid,
				ResetRateLimited:   ErrResetRateLimited,
				UserNotFound:       ErrUserNotFound,
			},
		},
		Account: internalflows.AccountDeps{
			ValidatePassword: e.policy.Validate,
			GeneratePassword: func(int) (string, error) {
				return e.policy.GeneratePronounceable(e.config.Password.TemporaryLength)
			},
			HashPassword:      e.passwordHash.Hash,
			CreateUser:        e.users.Create,
			Deny:              deny2,
			MetricInc:         metricInc,
			EmitAudit:         e.emitAudit,
			Warn:              warn,
			UserCreatedMetric: int(MetricUserCreated),
			Errors: internalflows.AccountErrors{
				EngineNotReady: ErrEngineNotReady,
				InvalidInput:   ErrInvalidInput,
				PasswordPolicy: ErrPasswordPolicy,
				EmailTaken:     ErrEmailTaken,
			},
		},
	})
}

// atomic runs fn in one transaction of the tenant bound to ctx.
func (e *Engine) atomic(ctx context.Context, fn func(context.Context) error) error {
	return tenant.Atomic(ctx, e.db, fn)
}

func (e *Engine) throttleResetRequest(ctx context.Context, email, ip string) error {
	return e.resetLimiter.CheckRequest(ctx, email, ip)
}

// throttleResetConfirm lets confirmations through when redis is down. The
// single-use token already bounds what a caller can try.
func (e *Engine) throttleResetConfirm(ctx context.Context, ip string) error {
	err := e.resetLimiter.CheckConfirm(ctx, ip)
	if errors.Is(err, limiters.ErrResetRedisUnavailable) {
		e.logger.Warn("reset confirm throttle unavailable, allowing", zap.Error(err))
		return nil
	}
	return err
}

// onLock records a lock applied by the lockout monitor as a security event.
func (e *Engine) onLock(ctx context.Context, ev limiters.LockEvent) {
	eventType, desc := audit.EventAccountLocked, "account locked after repeated failed logins"
	if ev.Reason == user.LockReasonSuspicious {
		eventType, desc = audit.EventSuspiciousActivity, "account locked for suspicious activity"
	}
	e.emitAudit(ctx, AuditEvent{
		EventType:   eventType,
		Severity:    audit.SeverityHigh,
		Description: desc,
		UserID:      ev.UserID,
		TenantID:    ev.TenantID,
		IP:          ev.IP,
		Metadata: map[string]string{
			"reason":       ev.Reason,
			"failures":     strconv.Itoa(ev.Failures),
			"locked_until": ev.Until.UTC().Format(time.RFC3339),
		},
	})
}
