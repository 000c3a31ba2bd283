package clinicauth

import (
	"sync/atomic"
	"time"
)

// MetricID names one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts successful logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts failed logins of any cause.
	MetricLoginFailure
	// MetricLoginRateLimited counts logins rejected by the per-IP budget.
	MetricLoginRateLimited
	// MetricAccountLocked counts logins rejected by an account lock.
	MetricAccountLocked
	// MetricTenantIneligible counts logins rejected by tenant eligibility.
	MetricTenantIneligible
	MetricRefreshSuccess
	MetricRefreshFailure
	// MetricRefreshRevoked counts refreshes presenting a revoked or rotated token.
	MetricRefreshRevoked
	MetricRefreshRateLimited
	MetricSessionCreated
	// MetricSessionRevoked counts sessions revoked by a user or administrator.
	MetricSessionRevoked
	MetricLogout
	MetricLogoutAll
	MetricForceLogout
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricPasswordResetRequest
	MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure
	MetricUserCreated
	// MetricSessionsExpired counts sessions deactivated by the cleanup job.
	MetricSessionsExpired
	MetricValidateLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the validate latency
// buckets. A final overflow bucket follows.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const latencyBuckets = len(latencyBounds) + 1

// counter sits alone on its cache line so hot counters do not contend.
type counter struct {
	n atomic.Uint64
	_ [56]byte
}

// Metrics is a set of lock-free counters plus a validate latency
// histogram. A nil or disabled Metrics drops every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]counter
	validate      [latencyBuckets]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:                "login_success",
	MetricLoginFailure:                "login_failure",
	MetricLoginRateLimited:            "login_rate_limited",
	MetricAccountLocked:               "account_locked",
	MetricTenantIneligible:            "tenant_ineligible",
	MetricRefreshSuccess:              "refresh_success",
	MetricRefreshFailure:              "refresh_failure",
	MetricRefreshRevoked:              "refresh_revoked",
	MetricRefreshRateLimited:          "refresh_rate_limited",
	MetricSessionCreated:              "session_created",
	MetricSessionRevoked:              "session_revoked",
	MetricLogout:                      "logout",
	MetricLogoutAll:                   "logout_all",
	MetricForceLogout:                 "force_logout",
	MetricPasswordChangeSuccess:       "password_change_success",
	MetricPasswordChangeFailure:       "password_change_failure",
	MetricPasswordResetRequest:        "password_reset_request",
	MetricPasswordResetConfirmSuccess: "password_reset_confirm_success",
	MetricPasswordResetConfirmFailure: "password_reset_confirm_failure",
	MetricUserCreated:                 "user_created",
	MetricSessionsExpired:             "sessions_expired",
	MetricValidateLatency:             "validate_latency",
}

// String returns the exported metric name of id.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// AllMetricIDs lists every counter in declaration order.
func AllMetricIDs() []MetricID {
	out := make([]MetricID, 0, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		out = append(out, id)
	}
	return out
}

// NewMetrics builds counters per cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) counter(id MetricID) *atomic.Uint64 {
	if m == nil || !m.enabled || id >= metricIDCount {
		return nil
	}
	return &m.counters[id].n
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to id.
func (m *Metrics) Add(id MetricID, n uint64) {
	if c := m.counter(id); c != nil && n > 0 {
		c.Add(n)
	}
}

// Observe records d in the latency histogram. Only MetricValidateLatency
// has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if id != MetricValidateLatency || m == nil || !m.enableLatency {
		return
	}
	b := 0
	for b < len(latencyBounds) && d > latencyBounds[b] {
		b++
	}
	m.validate[b].Add(1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

// Snapshot copies every counter and the latency buckets.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = m.counters[id].n.Load()
	}
	if m.enableLatency {
		buckets := make([]uint64, latencyBuckets)
		for i := range buckets {
			buckets[i] = m.validate[i].Load()
		}
		s.Histograms[MetricValidateLatency] = buckets
	}
	return s
}
