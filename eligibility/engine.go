package eligibility

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/clinicauth/tenant"
	"go.uber.org/zap"
)

// Kind classifies a denial for the HTTP layer.
type Kind string

const (
	KindNone            Kind = ""
	KindForbidden       Kind = "forbidden"
	KindGone            Kind = "gone"
	KindPaymentRequired Kind = "payment_required"
)

// Decision is the outcome of CanAuthenticate. Reason is safe to show to the
// caller; Detail is for server logs only.
type Decision struct {
	Allowed bool
	Kind    Kind
	Reason  string
	Detail  string
}

func allow(reason string) Decision {
	return Decision{Allowed: true, Reason: reason}
}

func deny(kind Kind, reason, detail string) Decision {
	return Decision{Kind: kind, Reason: reason, Detail: detail}
}

// OnUnavailable names what happens when the billing provider cannot answer.
type OnUnavailable uint8

const (
	FailOpen OnUnavailable = iota
	FailClosed
)

// Remote subscription statuses that deny outright.
var blockedSubscriptionStatuses = map[string]struct{}{
	"canceled":           {},
	"unpaid":             {},
	"incomplete_expired": {},
}

// Usage is the current consumption of a tenant.
type Usage struct {
	ActiveUsers   int
	Patients      int
	StorageGB     float64
	APICallsMonth int
}

// UsageCounter reports usage of one tenant.
type UsageCounter interface {
	Usage(ctx context.Context, tenantID string) (Usage, error)
}

// BillingClient reports the provider-side status of a subscription.
type BillingClient interface {
	SubscriptionStatus(ctx context.Context, subscriptionID string) (string, error)
}

// Config tunes the engine.
type Config struct {
	BillingTimeout       time.Duration
	OnBillingUnavailable OnUnavailable
}

// DefaultConfig waits 5 s for billing and fails open.
func DefaultConfig() Config {
	return Config{BillingTimeout: 5 * time.Second, OnBillingUnavailable: FailOpen}
}

// Engine evaluates tenant eligibility.
type Engine struct {
	usage   UsageCounter
	billing BillingClient
	config  Config
	logger  *zap.Logger
	now     func() time.Time
}

// New returns an engine. usage and billing may be nil, which skips the
// corresponding check.
func New(usage UsageCounter, billing BillingClient, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		usage:   usage,
		billing: billing,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// CanAuthenticate runs the status machine for t.
func (e *Engine) CanAuthenticate(ctx context.Context, t tenant.Tenant) Decision {
	now := e.now()

	switch t.Status {
	case tenant.StatusCancelled:
		return deny(KindGone, "This clinic account has been cancelled. Please contact support.", "status cancelled")

	case tenant.StatusSuspended:
		return deny(KindForbidden, "This clinic account has been suspended. Please contact support.", "status suspended")

	case tenant.StatusTrial:
		if t.TrialEndsAt != nil && t.TrialEndsAt.Before(now) {
			return deny(KindPaymentRequired,
				"Your trial period has ended. Please upgrade to continue using our services.",
				fmt.Sprintf("trial ended %s", t.TrialEndsAt.Format(time.RFC3339)))
		}
		trial, _ := tenant.Features(tenant.TierTrial)
		if d := e.checkUsage(ctx, t, trial.Limits); !d.Allowed {
			return d
		}
		return allow("Trial account active")

	case tenant.StatusActive:
		if f, ok := tenant.Features(t.Tier); ok && f.Paid {
			if d := e.checkSubscription(ctx, t, now); !d.Allowed {
				return d
			}
		}
		if d := e.checkUsage(ctx, t, t.EffectiveLimits()); !d.Allowed {
			return d
		}
		return allow("Active account")

	case tenant.StatusGracePeriod:
		if t.GracePeriodEndsAt != nil && t.GracePeriodEndsAt.Before(now) {
			return deny(KindPaymentRequired,
				"Grace period has ended. Please update your payment method to continue.",
				fmt.Sprintf("grace period ended %s", t.GracePeriodEndsAt.Format(time.RFC3339)))
		}
		return allow("Account in grace period")
	}

	e.logger.Error("tenant has unknown status",
		zap.String("tenant_id", t.ID),
		zap.String("status", string(t.Status)))
	return deny(KindForbidden, "This clinic account is not available. Please contact support.",
		fmt.Sprintf("unknown status %q", t.Status))
}

func (e *Engine) checkSubscription(ctx context.Context, t tenant.Tenant, now time.Time) Decision {
	if t.SubscriptionEndsAt != nil && t.SubscriptionEndsAt.Before(now) {
		return deny(KindPaymentRequired,
			"Your subscription has expired. Please renew to continue.",
			fmt.Sprintf("subscription ended %s", t.SubscriptionEndsAt.Format(time.RFC3339)))
	}
	if e.billing == nil || t.BillingSubscriptionID == "" {
		return allow("Subscription active")
	}

	callCtx := ctx
	if e.config.BillingTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.config.BillingTimeout)
		defer cancel()
	}
	status, err := e.billing.SubscriptionStatus(callCtx, t.BillingSubscriptionID)
	if err != nil {
		if e.config.OnBillingUnavailable == FailClosed {
			e.logger.Warn("billing status unavailable, denying",
				zap.String("tenant_id", t.ID), zap.Error(err))
			return deny(KindPaymentRequired,
				"Subscription status could not be verified. Please try again later.",
				"billing unavailable: "+err.Error())
		}
		e.logger.Warn("billing status unavailable, allowing",
			zap.String("tenant_id", t.ID), zap.Error(err))
		return allow("Subscription check temporarily unavailable")
	}

	if _, blocked := blockedSubscriptionStatuses[status]; blocked {
		return deny(KindPaymentRequired,
			"There's an issue with your subscription. Please update your payment method.",
			"remote status "+status)
	}
	if status == "past_due" && (t.GracePeriodEndsAt == nil || t.GracePeriodEndsAt.Before(now)) {
		return deny(KindPaymentRequired,
			"Your payment is overdue. Please update your payment method.",
			"remote status past_due outside grace period")
	}
	return allow("Subscription active")
}

func (e *Engine) checkUsage(ctx context.Context, t tenant.Tenant, limits tenant.Limits) Decision {
	if e.usage == nil {
		return allow("Usage not tracked")
	}
	u, err := e.usage.Usage(ctx, t.ID)
	if err != nil {
		e.logger.Warn("usage lookup failed, allowing",
			zap.String("tenant_id", t.ID), zap.Error(err))
		return allow("Usage check temporarily unavailable")
	}

	checks := []struct {
		name  string
		used  float64
		limit int
	}{
		{"User", float64(u.ActiveUsers), limits.Users},
		{"Patient", float64(u.Patients), limits.Patients},
		{"Storage", u.StorageGB, limits.StorageGB},
		{"API call", float64(u.APICallsMonth), limits.APICallsMonth},
	}
	for _, c := range checks {
		if c.limit == tenant.Unlimited || c.limit <= 0 {
			continue
		}
		if c.used >= float64(c.limit) {
			reason := fmt.Sprintf("%s limit exceeded (%s/%d)", c.name, formatUsed(c.used), c.limit)
			return deny(KindPaymentRequired, reason, reason)
		}
	}
	return allow("Within usage limits")
}

func formatUsed(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
