package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/MrEthical07/clinicauth/user"
)

// LockoutConfig holds the sliding-window thresholds of the lockout monitor.
type LockoutConfig struct {
	Enabled bool
	// MaxAttempts failures within Window lock the account for Duration.
	MaxAttempts int
	Window      time.Duration
	Duration    time.Duration
	// SuspiciousThreshold failures within SuspiciousWindow lock immediately.
	SuspiciousThreshold int
	SuspiciousWindow    time.Duration
}

// DefaultLockoutConfig is 5 failures in 30 minutes, or 10 in an hour.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		Enabled:             true,
		MaxAttempts:         5,
		Window:              30 * time.Minute,
		Duration:            30 * time.Minute,
		SuspiciousThreshold: 10,
		SuspiciousWindow:    time.Hour,
	}
}

var (
	// ErrLockoutUnavailable indicates the attempt store could not be read or
	// written. Callers deny the login.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// Attempt is one login attempt. Attempts are append-only.
type Attempt struct {
	TenantID  string
	UserID    string
	Success   bool
	IP        string
	UserAgent string
	At        time.Time
}

// AttemptStore appends attempts and counts failures. Both methods run in
// the tenant bound to ctx.
type AttemptStore interface {
	Append(ctx context.Context, a Attempt) error
	CountFailures(ctx context.Context, userID string, since time.Time) (int, error)
}

// LockStore writes the lock state on the user row in the tenant bound to ctx.
type LockStore interface {
	SetLockout(ctx context.Context, userID string, state user.LockoutState) error
	ClearLockout(ctx context.Context, userID string) error
}

// LockEvent describes a lock the monitor just applied.
type LockEvent struct {
	TenantID string
	UserID   string
	Reason   string
	Until    time.Time
	Failures int
	IP       string
}

// LockStatus is the outcome of CheckLockout.
type LockStatus struct {
	Allowed    bool
	Reason     string
	Message    string
	RetryAfter time.Duration
}

// LockoutMonitor derives account locks from stored login attempts. The
// failure count is re-queried on every attempt, so it is consistent across
// processes but two concurrent failures may both observe the same count.
type LockoutMonitor struct {
	attempts AttemptStore
	locks    LockStore
	config   LockoutConfig
	onLock   func(ctx context.Context, ev LockEvent)
	now      func() time.Time
}

// NewLockoutMonitor creates a monitor. onLock may be nil.
func NewLockoutMonitor(attempts AttemptStore, locks LockStore, cfg LockoutConfig, onLock func(context.Context, LockEvent)) *LockoutMonitor {
	return &LockoutMonitor{
		attempts: attempts,
		locks:    locks,
		config:   cfg,
		onLock:   onLock,
		now:      time.Now,
	}
}

// RecordAttempt appends an attempt and, on failure, re-counts both windows
// and locks the account when a threshold is reached. The suspicious-activity
// rule wins when both fire.
func (m *LockoutMonitor) RecordAttempt(ctx context.Context, tenantID, userID string, success bool, ip, userAgent string) error {
	if m == nil {
		return nil
	}
	ctx = tenant.WithID(ctx, tenantID)
	now := m.now()

	err := m.attempts.Append(ctx, Attempt{
		TenantID:  tenantID,
		UserID:    userID,
		Success:   success,
		IP:        ip,
		UserAgent: userAgent,
		At:        now,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if success || !m.config.Enabled {
		return nil
	}

	reason, failures, err := m.evaluate(ctx, userID, now)
	if err != nil {
		return err
	}
	if reason == "" {
		return nil
	}
	return m.lock(ctx, tenantID, userID, reason, failures, ip, now)
}

// CheckLockout reports whether u may attempt to log in. An elapsed lock is
// cleared lazily. A user with enough recent failures to count as suspicious
// is locked on the spot even if no lock is recorded yet.
func (m *LockoutMonitor) CheckLockout(ctx context.Context, tenantID string, u user.User, ip string) (LockStatus, error) {
	if m == nil || !m.config.Enabled {
		return LockStatus{Allowed: true}, nil
	}
	ctx = tenant.WithID(ctx, tenantID)
	now := m.now()

	if u.Lockout.Locked(now) {
		remaining := u.Lockout.Remaining(now)
		return LockStatus{
			Reason:     u.Lockout.Reason,
			Message:    lockedMessage(remaining),
			RetryAfter: remaining,
		}, nil
	}
	if u.Lockout.LockedUntil != nil {
		if err := m.locks.ClearLockout(ctx, u.ID); err != nil {
			return LockStatus{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	if m.config.SuspiciousThreshold > 0 {
		n, err := m.attempts.CountFailures(ctx, u.ID, now.Add(-m.config.SuspiciousWindow))
		if err != nil {
			return LockStatus{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		if n >= m.config.SuspiciousThreshold {
			if err := m.lock(ctx, tenantID, u.ID, user.LockReasonSuspicious, n, ip, now); err != nil {
				return LockStatus{}, err
			}
			return LockStatus{
				Reason:     user.LockReasonSuspicious,
				Message:    "Suspicious activity detected. Account temporarily locked.",
				RetryAfter: m.config.Duration,
			}, nil
		}
	}
	return LockStatus{Allowed: true}, nil
}

func (m *LockoutMonitor) evaluate(ctx context.Context, userID string, now time.Time) (string, int, error) {
	if m.config.SuspiciousThreshold > 0 {
		n, err := m.attempts.CountFailures(ctx, userID, now.Add(-m.config.SuspiciousWindow))
		if err != nil {
			return "", 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
		if n >= m.config.SuspiciousThreshold {
			return user.LockReasonSuspicious, n, nil
		}
	}
	n, err := m.attempts.CountFailures(ctx, userID, now.Add(-m.config.Window))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if n >= m.config.MaxAttempts {
		return user.LockReasonFailedAttempts, n, nil
	}
	return "", n, nil
}

func (m *LockoutMonitor) lock(ctx context.Context, tenantID, userID, reason string, failures int, ip string, now time.Time) error {
	until := now.Add(m.config.Duration)
	if err := m.locks.SetLockout(ctx, userID, user.LockoutState{LockedUntil: &until, Reason: reason}); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if m.onLock != nil {
		m.onLock(ctx, LockEvent{
			TenantID: tenantID,
			UserID:   userID,
			Reason:   reason,
			Until:    until,
			Failures: failures,
			IP:       ip,
		})
	}
	return nil
}

func lockedMessage(remaining time.Duration) string {
	minutes := int(remaining.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Account temporarily locked. Try again in %d minutes.", minutes)
}
