package user

import (
	"errors"
	"time"

	"github.com/MrEthical07/clinicauth/permission"
)

var (
	// ErrNotFound is returned when no user matches.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned by Create when the email is already registered
	// in any tenant.
	ErrEmailTaken = errors.New("email already registered")
)

// Lockout reasons written by the security monitor.
const (
	LockReasonFailedAttempts = "too_many_failed_attempts"
	LockReasonSuspicious     = "suspicious_activity"
)

// LockoutState is the account lock written by the security monitor.
type LockoutState struct {
	LockedUntil *time.Time
	Reason      string
}

// Locked reports whether the lock is still in force at now.
func (l LockoutState) Locked(now time.Time) bool {
	return l.LockedUntil != nil && now.Before(*l.LockedUntil)
}

// Remaining is the time left on the lock at now, zero when unlocked.
func (l LockoutState) Remaining(now time.Time) time.Duration {
	if !l.Locked(now) {
		return 0
	}
	return l.LockedUntil.Sub(now)
}

// ResetFlags are the administrative password flags on a user.
type ResetFlags struct {
	FirstLogin        bool
	PasswordExpired   bool
	ForceReset        bool
	ResetRequired     bool
	TemporaryPassword bool
	RequireReauth     bool
}

// RequiresReset reports whether login must be refused until the user
// completes a password reset.
func (f ResetFlags) RequiresReset() bool {
	return f.FirstLogin || f.PasswordExpired || f.ForceReset || f.ResetRequired || f.TemporaryPassword
}

// PasswordHistoryEntry is one previous password hash.
type PasswordHistoryEntry struct {
	Hash      string
	ChangedAt time.Time
}

// User is a member of exactly one tenant.
type User struct {
	ID                string
	TenantID          string
	Email             string
	FirstName         string
	LastName          string
	PasswordHash      string
	Role              permission.Role
	IsActive          bool
	PasswordChangedAt *time.Time
	LoginCount        int
	LastLoginAt       *time.Time
	CreatedAt         time.Time

	Lockout LockoutState
	Reset   ResetFlags
}

// Identity is what the unscoped login lookup reveals about an email.
type Identity struct {
	UserID   string
	TenantID string
}

// NewUser is the input of Create.
type NewUser struct {
	TenantID     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         permission.Role
	Reset        ResetFlags
}
