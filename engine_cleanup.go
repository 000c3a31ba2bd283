package clinicauth

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/clinicauth/permission"
	"go.uber.org/zap"
)

// CleanupExpired deactivates expired sessions and their refresh tokens and
// retires stale reset tokens of one tenant.
func (e *Engine) CleanupExpired(ctx context.Context, tenantID string) (CleanupResult, error) {
	if e == nil || e.sessionStore == nil {
		return CleanupResult{}, ErrEngineNotReady
	}
	if tenantID == "" {
		return CleanupResult{}, ErrTenantContextMissing
	}
	revoked, err := e.sessionStore.CleanupExpired(ctx, tenantID)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("cleanup sessions of %s: %w", tenantID, err)
	}
	resets, err := e.resetTokens.ExpireStale(ctx, tenantID, e.now())
	if err != nil {
		return CleanupResult{}, fmt.Errorf("cleanup reset tokens of %s: %w", tenantID, err)
	}
	e.metrics.Add(MetricSessionsExpired, uint64(revoked.Sessions))
	return CleanupResult{Sessions: revoked.Sessions, Tokens: revoked.Tokens, ResetTokens: resets}, nil
}

// CleanupAllTenants runs CleanupExpired for every active tenant. A failing
// tenant is logged and skipped; the error of the tenant listing is returned.
func (e *Engine) CleanupAllTenants(ctx context.Context) (CleanupResult, error) {
	if e == nil || e.tenants == nil {
		return CleanupResult{}, ErrEngineNotReady
	}
	ids, err := e.tenants.ListActiveIDs(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("list tenants: %w", err)
	}
	var total CleanupResult
	for _, id := range ids {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		res, err := e.CleanupExpired(ctx, id)
		if err != nil {
			e.logger.Warn("tenant cleanup failed", zap.String("tenant_id", id), zap.Error(err))
			continue
		}
		total.add(res)
	}
	if total.Sessions > 0 || total.ResetTokens > 0 {
		e.logger.Info("expired sessions cleaned up",
			zap.Int("tenants", len(ids)),
			zap.Int("sessions", total.Sessions),
			zap.Int("tokens", total.Tokens),
			zap.Int("reset_tokens", total.ResetTokens))
	}
	return total, nil
}

// LoginStats counts login attempts of the caller's practice over the last
// window. It requires the view_reports capability.
func (e *Engine) LoginStats(ctx context.Context, auth *AuthResult, window time.Duration) (LoginStats, error) {
	ctx, _, err := e.callerScope(ctx, auth)
	if err != nil {
		return LoginStats{}, err
	}
	if err := e.requireCapability(auth, permission.CapViewReports); err != nil {
		return LoginStats{}, err
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return e.attempts.Stats(ctx, e.now().Add(-window))
}
