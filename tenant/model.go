package tenant

import "time"

// Status is the subscription lifecycle state of a tenant.
type Status string

const (
	StatusTrial       Status = "trial"
	StatusActive      Status = "active"
	StatusGracePeriod Status = "grace_period"
	StatusSuspended   Status = "suspended"
	StatusCancelled   Status = "cancelled"
)

// Tier is the subscription plan.
type Tier string

const (
	TierTrial        Tier = "trial"
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Unlimited marks a limit with no ceiling.
const Unlimited = -1

// Limits are the usage ceilings of a plan. Zero in a tenant override means
// "use the tier value".
type Limits struct {
	Users         int
	Patients      int
	StorageGB     int
	APICallsMonth int
}

// TierFeatures describes a plan.
type TierFeatures struct {
	Limits    Limits
	TrialDays int
	Paid      bool
}

var tiers = map[Tier]TierFeatures{
	TierTrial:        {Limits: Limits{Users: 5, Patients: 100, StorageGB: 1, APICallsMonth: 1000}, TrialDays: 30},
	TierBasic:        {Limits: Limits{Users: 10, Patients: 1000, StorageGB: 10, APICallsMonth: 10000}, Paid: true},
	TierProfessional: {Limits: Limits{Users: 25, Patients: 5000, StorageGB: 50, APICallsMonth: 50000}, Paid: true},
	TierEnterprise:   {Limits: Limits{Users: 100, Patients: Unlimited, StorageGB: 100, APICallsMonth: 200000}, Paid: true},
}

// Features returns the plan description of t and whether t is known.
func Features(t Tier) (TierFeatures, bool) {
	f, ok := tiers[t]
	return f, ok
}

// Tenant is one clinic.
type Tenant struct {
	ID                    string
	Slug                  string
	Name                  string
	Status                Status
	Tier                  Tier
	IsActive              bool
	LimitOverrides        Limits
	TrialEndsAt           *time.Time
	SubscriptionEndsAt    *time.Time
	GracePeriodEndsAt     *time.Time
	BillingSubscriptionID string
}

// EffectiveLimits merges the tenant overrides over its tier limits.
func (t Tenant) EffectiveLimits() Limits {
	base := tiers[t.Tier].Limits
	pick := func(override, fallback int) int {
		if override != 0 {
			return override
		}
		return fallback
	}
	return Limits{
		Users:         pick(t.LimitOverrides.Users, base.Users),
		Patients:      pick(t.LimitOverrides.Patients, base.Patients),
		StorageGB:     pick(t.LimitOverrides.StorageGB, base.StorageGB),
		APICallsMonth: pick(t.LimitOverrides.APICallsMonth, base.APICallsMonth),
	}
}
