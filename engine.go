package clinicauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/clinicauth/eligibility"
	"github.com/MrEthical07/clinicauth/internal/audit"
	internalflows "github.com/MrEthical07/clinicauth/internal/flows"
	"github.com/MrEthical07/clinicauth/internal/limiters"
	"github.com/MrEthical07/clinicauth/internal/rate"
	"github.com/MrEthical07/clinicauth/internal/stores"
	"github.com/MrEthical07/clinicauth/jwt"
	"github.com/MrEthical07/clinicauth/password"
	"github.com/MrEthical07/clinicauth/session"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/MrEthical07/clinicauth/user"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine authenticates users of every practice on one deployment. Build it
// with [New]; it is safe for concurrent use.
type Engine struct {
	config Config
	logger *zap.Logger
	db     tenant.DB
	redis  redis.UniversalClient
	now    func() time.Time

	users          *user.PgStore
	tenants        *tenant.PgStore
	resolver       *tenant.Resolver
	sessionStore   *session.Store
	attempts       *stores.LoginAttemptStore
	resetTokens    *stores.ResetTokenStore
	securityEvents *stores.SecurityEventStore

	rateLimiter  *rate.Limiter
	resetLimiter *limiters.PasswordResetLimiter
	lockout      *limiters.LockoutMonitor
	eligibility  *eligibility.Engine

	passwordHash  *password.Argon2
	dummyHash     string
	policy        *password.Policy
	jwtManager    *jwt.Manager
	resetDelivery ResetDelivery

	audit   *audit.Dispatcher
	metrics *Metrics
	flow    internalflows.Service
}

// Close drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Metrics exposes the counters for exporters.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// TenantResolver returns the resolver used by the tenant HTTP middleware.
func (e *Engine) TenantResolver() *tenant.Resolver {
	return e.resolver
}

// TenantSourceConflict records a request whose tenant header disagreed with
// its subdomain. The header won.
func (e *Engine) TenantSourceConflict(ctx context.Context, res tenant.Resolution) {
	e.emitAudit(ctx, AuditEvent{
		EventType:   audit.EventTenantSourceConflict,
		Severity:    audit.SeverityMedium,
		Description: "tenant header disagrees with subdomain",
		TenantID:    res.Tenant.ID,
		IP:          clientIPFromContext(ctx),
		Metadata: map[string]string{
			"source":    string(res.Source),
			"subdomain": res.Subdomain,
		},
	})
}

// Login authenticates email and password and opens a session. Unknown
// emails and wrong passwords both fail with ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || !e.flow.Initialized() {
		return nil, ErrEngineNotReady
	}
	res, err := e.flow.Login(ctx, internalflows.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		TenantSlug: req.TenantSlug,
		IP:         clientIPFromContext(ctx),
		UserAgent:  userAgentFromContext(ctx),
	})
	if err != nil {
		if isIneligible(err) {
			e.metricInc(MetricTenantIneligible)
		}
		e.logger.Debug("login failed",
			zap.String("state", string(res.State)),
			zap.String("tenant_id", res.TenantID),
			zap.Error(err))
		return nil, err
	}
	return &LoginResult{
		AccessToken:           res.AccessToken,
		RefreshToken:          res.RefreshToken,
		TokenType:             res.TokenType,
		ExpiresIn:             res.ExpiresIn,
		SessionID:             res.SessionID,
		UserID:                res.UserID,
		TenantID:              res.TenantID,
		Role:                  res.Role,
		PasswordResetRequired: res.PasswordResetRequired,
	}, nil
}

func isIneligible(err error) bool {
	return errors.Is(err, ErrTenantInactive) ||
		errors.Is(err, ErrTenantSuspended) ||
		errors.Is(err, ErrTenantCancelled) ||
		errors.Is(err, ErrPaymentRequired)
}

// Refresh exchanges a refresh token for a new access token. With rotation
// on, the presented token is spent and a new one returned; presenting it
// again fails with ErrTokenRevoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || !e.flow.Initialized() {
		return nil, ErrEngineNotReady
	}
	res := e.flow.Refresh(ctx, refreshToken)
	ev := AuditEvent{
		TenantID:  res.TenantID,
		UserID:    res.UserID,
		SessionID: res.SessionID,
		IP:        clientIPFromContext(ctx),
	}

	if res.Failure == internalflows.RefreshFailureNone {
		e.metricInc(MetricRefreshSuccess)
		ev.EventType, ev.Success = audit.EventRefreshSuccess, true
		e.emitAudit(ctx, ev)
		return &TokenPair{
			AccessToken:  res.AccessToken,
			RefreshToken: res.RefreshToken,
			TokenType:    "bearer",
			ExpiresIn:    res.ExpiresIn,
			SessionID:    res.SessionID,
		}, nil
	}

	err := e.mapRefreshFailure(res)
	switch res.Failure {
	case internalflows.RefreshFailureRevoked:
		e.metricInc(MetricRefreshRevoked)
		ev.EventType, ev.Severity, ev.Error = audit.EventRefreshRevoked, audit.SeverityMedium, audit.ErrCodeTokenRevoked
	case internalflows.RefreshFailureRateLimited:
		e.metricInc(MetricRefreshRateLimited)
		ev.EventType, ev.Error = audit.EventRefreshInvalid, audit.ErrCodeRateLimited
	case internalflows.RefreshFailureTenantMismatch:
		e.metricInc(MetricRefreshFailure)
		ev.EventType, ev.Severity, ev.Error = audit.EventRefreshInvalid, audit.SeverityHigh, audit.ErrCodeTenantMismatch
	default:
		e.metricInc(MetricRefreshFailure)
		ev.EventType, ev.Error = audit.EventRefreshInvalid, audit.ErrCodeTokenInvalid
	}
	if HTTPStatus(err) >= 500 {
		e.logger.Error("refresh failed", zap.String("session_id", res.SessionID), zap.Error(err))
	}
	e.emitAudit(ctx, ev)
	return nil, err
}

func (e *Engine) mapRefreshFailure(res internalflows.RefreshResult) error {
	switch res.Failure {
	case internalflows.RefreshFailureNotReady:
		return ErrEngineNotReady
	case internalflows.RefreshFailureInvalid:
		return ErrTokenInvalid
	case internalflows.RefreshFailureExpired:
		return ErrTokenExpired
	case internalflows.RefreshFailureRevoked:
		return deny(ErrTokenRevoked, "Refresh token has been revoked", 0)
	case internalflows.RefreshFailureTenantMismatch:
		return deny(ErrForbidden, "Token does not belong to this practice", 0)
	case internalflows.RefreshFailureRateLimited:
		return deny(ErrRefreshRateLimited, "Too many refresh requests", res.RetryAfter)
	case internalflows.RefreshFailureUserInactive:
		return deny(ErrUnauthorized, "User not found or inactive", 0)
	default:
		return fmt.Errorf("refresh: %w", res.Err)
	}
}

// ValidateAccess validates with the engine's configured mode.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*AuthResult, error) {
	return e.Validate(ctx, tokenStr, ModeInherit)
}

// Validate verifies an access token. ModeStrict also requires its session
// to be active, so logged-out tokens fail before they expire.
func (e *Engine) Validate(ctx context.Context, tokenStr string, routeMode RouteMode) (*AuthResult, error) {
	if e == nil || !e.flow.Initialized() {
		return nil, ErrEngineNotReady
	}
	start := e.now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, e.now().Sub(start))
	}()

	res := e.flow.Validate(ctx, tokenStr, int(routeMode))
	switch res.Failure {
	case internalflows.ValidateFailureNone:
	case internalflows.ValidateFailureExpired:
		return nil, ErrTokenExpired
	case internalflows.ValidateFailureTokenClockSkew:
		return nil, ErrTokenClockSkew
	case internalflows.ValidateFailureInvalidRouteMode:
		return nil, ErrInvalidRouteMode
	case internalflows.ValidateFailureTenantMismatch:
		return nil, deny(ErrForbidden, "Token does not belong to this practice", 0)
	case internalflows.ValidateFailureSessionNotFound:
		if res.Err != nil && !errors.Is(res.Err, session.ErrSessionNotFound) {
			return nil, fmt.Errorf("validate session: %w", res.Err)
		}
		return nil, deny(ErrTokenRevoked, "Session is no longer active", 0)
	default:
		return nil, ErrTokenInvalid
	}

	c := res.Claims
	out := &AuthResult{
		UserID:    c.Subject,
		TenantID:  c.TenantID,
		SessionID: c.SessionID,
		Email:     c.Email,
		Role:      res.Role,
		LoginTime: time.Unix(c.LoginTime, 0).UTC(),
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}

func (e *Engine) resolveRouteMode(routeMode RouteMode) (ValidationMode, error) {
	mode, ok := internalflows.ResolveRouteMode(int(routeMode), int(e.config.ValidationMode), internalflows.ModeResolverConfig{
		ModeInherit: int(ModeInherit),
		ModeJWTOnly: int(ModeJWTOnly),
		ModeStrict:  int(ModeStrict),
	})
	if !ok {
		return 0, ErrInvalidRouteMode
	}
	return ValidationMode(mode), nil
}

// Health pings Postgres and redis.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	var h HealthStatus
	if e == nil {
		return h
	}
	if p, ok := e.db.(interface{ Ping(context.Context) error }); ok {
		start := e.now()
		h.DatabaseAvailable = p.Ping(ctx) == nil
		h.DatabaseLatency = e.now().Sub(start)
	}
	start := e.now()
	h.RedisAvailable = e.rateLimiter.Ping(ctx) == nil
	h.RedisLatency = e.now().Sub(start)
	return h
}
