package internaldefs

import (
	"github.com/MrEthical07/clinicauth"
)

// Prefix starts every exported series name.
const Prefix = "clinicauth_"

type CounterDef struct {
	ID   clinicauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   clinicauth.MetricID
	Name string
	Help string
}

var counterHelp = map[clinicauth.MetricID]string{
	clinicauth.MetricLoginSuccess:                "Successful logins.",
	clinicauth.MetricLoginFailure:                "Failed logins of any cause.",
	clinicauth.MetricLoginRateLimited:            "Logins rejected by the per-IP budget.",
	clinicauth.MetricAccountLocked:               "Logins rejected by an account lock.",
	clinicauth.MetricTenantIneligible:            "Logins rejected by practice eligibility.",
	clinicauth.MetricRefreshSuccess:              "Successful token refreshes.",
	clinicauth.MetricRefreshFailure:              "Failed token refreshes.",
	clinicauth.MetricRefreshRevoked:              "Refreshes presenting a revoked or rotated token.",
	clinicauth.MetricRefreshRateLimited:          "Rate-limited token refreshes.",
	clinicauth.MetricSessionCreated:              "Sessions opened by login.",
	clinicauth.MetricSessionRevoked:              "Sessions revoked by a user.",
	clinicauth.MetricLogout:                      "Single-session logouts.",
	clinicauth.MetricLogoutAll:                   "Logout-all operations.",
	clinicauth.MetricForceLogout:                 "Administrative forced logouts.",
	clinicauth.MetricPasswordChangeSuccess:       "Successful password changes.",
	clinicauth.MetricPasswordChangeFailure:       "Rejected password changes.",
	clinicauth.MetricPasswordResetRequest:        "Password reset requests.",
	clinicauth.MetricPasswordResetConfirmSuccess: "Successful password reset confirmations.",
	clinicauth.MetricPasswordResetConfirmFailure: "Rejected password reset confirmations.",
	clinicauth.MetricUserCreated:                 "Users created by administrators.",
	clinicauth.MetricSessionsExpired:             "Expired sessions deactivated by the cleanup job.",
}

// CounterDefs lists every counter in MetricID order.
var CounterDefs = buildCounterDefs()

// HistogramDefs lists the latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: clinicauth.MetricValidateLatency, Name: Prefix + "validate_latency_seconds", Help: "Access token validation latency."},
}

func buildCounterDefs() []CounterDef {
	defs := make([]CounterDef, 0, len(counterHelp))
	for _, id := range clinicauth.AllMetricIDs() {
		help, ok := counterHelp[id]
		if !ok {
			continue
		}
		defs = append(defs, CounterDef{ID: id, Name: Prefix + id.String() + "_total", Help: help})
	}
	return defs
}

// HistogramBounds are the upper bounds of the engine's eight buckets, in
// seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramUpperSeconds is HistogramBounds without the +Inf bucket.
var HistogramUpperSeconds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
