package eligibility

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const tenantID = "0b5f8c1e-8a6f-4c1e-9a52-3f3d2a1c0001"

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

type fakeUsage struct {
	usage Usage
	err   error
	calls int
}

func (f *fakeUsage) Usage(context.Context, string) (Usage, error) {
	f.calls++
	return f.usage, f.err
}

type fakeBilling struct {
	status string
	err    error
	calls  int
}

func (f *fakeBilling) SubscriptionStatus(context.Context, string) (string, error) {
	f.calls++
	return f.status, f.err
}

func newTestEngine(u UsageCounter, b BillingClient, cfg Config) *Engine {
	e := New(u, b, cfg, zap.NewNop())
	e.now = func() time.Time { return now }
	return e
}

func TestCanAuthenticateStatusMachine(t *testing.T) {
	cases := []struct {
		name    string
		tenant  tenant.Tenant
		billing *fakeBilling
		allowed bool
		kind    Kind
		reason  string
	}{
		{
			name:   "cancelled",
			tenant: tenant.Tenant{Status: tenant.StatusCancelled},
			kind:   KindGone,
			reason: "This clinic account has been cancelled. Please contact support.",
		},
		{
			name:   "suspended",
			tenant: tenant.Tenant{Status: tenant.StatusSuspended},
			kind:   KindForbidden,
		},
		{
			name:   "trial expired",
			tenant: tenant.Tenant{Status: tenant.StatusTrial, Tier: tenant.TierTrial, TrialEndsAt: at(-time.Hour)},
			kind:   KindPaymentRequired,
			reason: "Your trial period has ended. Please upgrade to continue using our services.",
		},
		{
			name:    "trial running",
			tenant:  tenant.Tenant{Status: tenant.StatusTrial, Tier: tenant.TierTrial, TrialEndsAt: at(72 * time.Hour)},
			allowed: true,
		},
		{
			name:    "active without billing id",
			tenant:  tenant.Tenant{Status: tenant.StatusActive, Tier: tenant.TierBasic},
			allowed: true,
		},
		{
			name:   "active with lapsed local subscription",
			tenant: tenant.Tenant{Status: tenant.StatusActive, Tier: tenant.TierBasic, SubscriptionEndsAt: at(-time.Minute)},
			kind:   KindPaymentRequired,
			reason: "Your subscription has expired. Please renew to continue.",
		},
		{
			name:    "active remote canceled",
			tenant:  tenant.Tenant{Status: tenant.StatusActive, Tier: tenant.TierProfessional, BillingSubscriptionID: "sub_1"},
			billing: &fakeBilling{status: "canceled"},
			kind:    KindPaymentRequired,
			reason:  "There's an issue with your subscription. Please update your payment method.",
		},
		{
			name:    "active remote past due",
			tenant:  tenant.Tenant{Status: tenant.StatusActive, Tier: tenant.TierBasic, BillingSubscriptionID: "sub_1"},
			billing: &fakeBilling{status: "past_due"},
			kind:    KindPaymentRequired,
			reason:  "Your payment is overdue. Please update your payment method.",
		},
		{
			name: "active remote past due inside grace",
			tenant: tenant.Tenant{
				Status: tenant.StatusActive, Tier: tenant.TierBasic,
				BillingSubscriptionID: "sub_1", GracePeriodEndsAt: at(24 * time.Hour),
			},
			billing: &fakeBilling{status: "past_due"},
			allowed: true,
		},
		{
			name:    "active remote ok",
			tenant:  tenant.Tenant{Status: tenant.StatusActive, Tier: tenant.TierEnterprise, BillingSubscriptionID: "sub_1"},
			billing: &fakeBilling{status: "active"},
			allowed: true,
		},
		{
			name:    "grace period running",
			tenant:  tenant.Tenant{Status: tenant.StatusGracePeriod, GracePeriodEndsAt: at(time.Hour)},
			allowed: true,
		},
		{
			name:   "grace period over",
			tenant: tenant.Tenant{Status: tenant.StatusGracePeriod, GracePeriodEndsAt: at(-time.Hour)},
			kind:   KindPaymentRequired,
			reason: "Grace period has ended. Please update your payment method to continue.",
		},
		{
			name:   "unknown status",
			tenant: tenant.Tenant{Status: "frozen"},
			kind:   KindForbidden,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var billing BillingClient
			if tc.billing != nil {
				billing = tc.billing
			}
			tc.tenant.ID = tenantID
			d := newTestEngine(&fakeUsage{}, billing, DefaultConfig()).CanAuthenticate(context.Background(), tc.tenant)

			assert.Equal(t, tc.allowed, d.Allowed)
			if !tc.allowed {
				assert.Equal(t, tc.kind, d.Kind)
				assert.NotEmpty(t, d.Reason)
			}
			if tc.reason != "" {
				assert.Equal(t, tc.reason, d.Reason)
			}
		})
	}
}

func TestTrialUsesTrialLimits(t *testing.T) {
	usage := &fakeUsage{usage: Usage{ActiveUsers: 5}}
	d := newTestEngine(usage, nil, DefaultConfig()).CanAuthenticate(context.Background(), tenant.Tenant{
		ID: tenantID, Status: tenant.StatusTrial, Tier: tenant.TierTrial,
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, KindPaymentRequired, d.Kind)
	assert.Equal(t, "User limit exceeded (5/5)", d.Reason)
}

func TestActiveUsageLimits(t *testing.T) {
	base := tenant.Tenant{ID: tenantID, Status: tenant.StatusActive, Tier: tenant.TierBasic}

	cases := []struct {
		name    string
		usage   Usage
		tenant  tenant.Tenant
		allowed bool
		reason  string
	}{
		{"under limits", Usage{ActiveUsers: 9, Patients: 999}, base, true, ""},
		{"users at limit", Usage{ActiveUsers: 10}, base, false, "User limit exceeded (10/10)"},
		{"storage fractional", Usage{StorageGB: 10.5}, base, false, "Storage limit exceeded (10.5/10)"},
		{"override raises ceiling", Usage{ActiveUsers: 10}, func() tenant.Tenant {
			t := base
			t.LimitOverrides.Users = 20
			return t
		}(), true, ""},
		{"enterprise patients unlimited", Usage{Patients: 1_000_000}, tenant.Tenant{
			ID: tenantID, Status: tenant.StatusActive, Tier: tenant.TierEnterprise,
		}, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestEngine(&fakeUsage{usage: tc.usage}, nil, DefaultConfig()).CanAuthenticate(context.Background(), tc.tenant)
			assert.Equal(t, tc.allowed, d.Allowed)
			if tc.reason != "" {
				assert.Equal(t, tc.reason, d.Reason)
			}
		})
	}
}

func TestUsageFailureAllowsAndWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	e := New(&fakeUsage{err: errors.New("db down")}, nil, DefaultConfig(), zap.New(core))
	e.now = func() time.Time { return now }

	d := e.CanAuthenticate(context.Background(), tenant.Tenant{ID: tenantID, Status: tenant.StatusActive, Tier: tenant.TierBasic})
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, logs.FilterMessage("usage lookup failed, allowing").Len())
}

func TestBillingUnavailablePolicy(t *testing.T) {
	paid := tenant.Tenant{ID: tenantID, Status: tenant.StatusActive, Tier: tenant.TierBasic, BillingSubscriptionID: "sub_1"}
	down := &fakeBilling{err: ErrBillingUnavailable}

	open := newTestEngine(nil, down, DefaultConfig()).CanAuthenticate(context.Background(), paid)
	assert.True(t, open.Allowed)

	cfg := DefaultConfig()
	cfg.OnBillingUnavailable = FailClosed
	closed := newTestEngine(nil, down, cfg).CanAuthenticate(context.Background(), paid)
	assert.False(t, closed.Allowed)
	assert.Equal(t, KindPaymentRequired, closed.Kind)
	assert.Equal(t, 2, down.calls)
}

func TestTrialTierSkipsBilling(t *testing.T) {
	billing := &fakeBilling{status: "canceled"}
	d := newTestEngine(nil, billing, DefaultConfig()).CanAuthenticate(context.Background(), tenant.Tenant{
		ID: tenantID, Status: tenant.StatusActive, Tier: tenant.TierTrial, BillingSubscriptionID: "sub_1",
	})
	assert.True(t, d.Allowed)
	assert.Zero(t, billing.calls)
}

func TestPgUsage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT set_config").
		WithArgs(tenantID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("LEFT JOIN tenant_usage").
		WithArgs(tenantID).
		WillReturnRows(pgxmock.NewRows([]string{"users", "patients", "storage", "api"}).
			AddRow(7, 120, 2.5, 4000))
	mock.ExpectCommit()

	u, err := NewPgUsage(mock).Usage(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, Usage{ActiveUsers: 7, Patients: 120, StorageGB: 2.5, APICallsMonth: 4000}, u)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHTTPBillingClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/subscriptions/sub_ok":
			if r.Header.Get("Authorization") != "Bearer key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"status":"past_due"}`))
		case "/subscriptions/sub_bad":
			_, _ = w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewHTTPBillingClient(srv.URL+"/", "key", time.Second)

	status, err := c.SubscriptionStatus(context.Background(), "sub_ok")
	require.NoError(t, err)
	assert.Equal(t, "past_due", status)

	_, err = c.SubscriptionStatus(context.Background(), "sub_bad")
	assert.ErrorIs(t, err, ErrBillingUnavailable)

	_, err = c.SubscriptionStatus(context.Background(), "sub_missing")
	assert.ErrorIs(t, err, ErrBillingUnavailable)
}
