package clinicauth

import (
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/clinicauth/tenant"
)

var (
	// ErrInvalidInput is returned for malformed or missing request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned when a bearer token is missing or unusable.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAccountLocked is returned while a failed-attempts lock is in force.
	ErrAccountLocked = errors.New("account locked")
	// ErrSuspiciousActivity is returned while a suspicious-activity lock is in force.
	ErrSuspiciousActivity = errors.New("account locked due to suspicious activity")
	// ErrTenantNotFound is returned when no clinic matches the given identity.
	ErrTenantNotFound = tenant.ErrNotFound
	// ErrTenantInactive is returned for clinics switched off by an operator.
	ErrTenantInactive = tenant.ErrInactive
	// ErrTenantSuspended is returned for suspended clinics.
	ErrTenantSuspended = errors.New("tenant suspended")
	// ErrTenantCancelled is returned for cancelled clinics.
	ErrTenantCancelled = errors.New("tenant cancelled")
	// ErrPaymentRequired is returned when a trial, grace period or subscription has lapsed.
	ErrPaymentRequired = errors.New("payment required")
	// ErrPasswordResetRequired is returned when an administrative reset flag blocks login.
	ErrPasswordResetRequired = errors.New("password reset required")
	// ErrForbidden is returned when the caller may not perform the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrTokenExpired is returned for expired access or refresh tokens.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned for refresh tokens whose handle or session is gone.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrTokenInvalid is returned for tokens that fail signature or claim checks.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenClockSkew is returned for tokens issued in the future.
	ErrTokenClockSkew = errors.New("token clock skew exceeded")
	// ErrTenantContextMissing is returned when a tenant-scoped call has no bound tenant.
	ErrTenantContextMissing = tenant.ErrContextMissing
	// ErrSessionNotFound is returned when the session does not exist in the bound tenant.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUserNotFound is returned when the user does not exist in the bound tenant.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when creating a user with a registered email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrPasswordPolicy is returned when a new password breaks the policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a new password matches a recent one.
	ErrPasswordReuse = errors.New("password recently used")
	// ErrResetTokenInvalid covers unknown, used and expired reset tokens.
	ErrResetTokenInvalid = errors.New("reset token invalid")
	// ErrLoginRateLimited is returned when the per-IP login budget is spent.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when a session refreshes too often.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrResetRateLimited is returned when reset confirmations are throttled.
	ErrResetRateLimited = errors.New("password reset rate limited")
	// ErrInvalidRouteMode is returned for an unknown route validation mode.
	ErrInvalidRouteMode = errors.New("invalid route validation mode")
	// ErrEngineNotReady is returned by an Engine that was not built.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// DeniedError carries a user-facing reason and an optional retry delay for
// a sentinel. errors.Is sees through it to the sentinel.
type DeniedError struct {
	Kind       error
	Reason     string
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Reason
}

func (e *DeniedError) Unwrap() error { return e.Kind }

func deny(kind error, reason string, retryAfter time.Duration) error {
	return &DeniedError{Kind: kind, Reason: reason, RetryAfter: retryAfter}
}

// Reason returns the user-facing reason carried by err, or "".
func Reason(err error) string {
	var d *DeniedError
	if errors.As(err, &d) {
		return d.Reason
	}
	return ""
}

// RetryAfter returns the retry delay carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var d *DeniedError
	if errors.As(err, &d) {
		return d.RetryAfter
	}
	return 0
}

var statusTable = []struct {
	err    error
	status int
}{
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrPasswordPolicy, http.StatusBadRequest},
	{ErrPasswordReuse, http.StatusBadRequest},
	{ErrResetTokenInvalid, http.StatusBadRequest},
	{ErrInvalidCredentials, http.StatusUnauthorized},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrTokenExpired, http.StatusUnauthorized},
	{ErrTokenRevoked, http.StatusUnauthorized},
	{ErrTokenInvalid, http.StatusUnauthorized},
	{ErrTokenClockSkew, http.StatusUnauthorized},
	{ErrPaymentRequired, http.StatusPaymentRequired},
	{ErrTenantInactive, http.StatusForbidden},
	{ErrTenantSuspended, http.StatusForbidden},
	{ErrPasswordResetRequired, http.StatusForbidden},
	{ErrForbidden, http.StatusForbidden},
	{ErrTenantNotFound, http.StatusNotFound},
	{ErrSessionNotFound, http.StatusNotFound},
	{ErrUserNotFound, http.StatusNotFound},
	{ErrEmailTaken, http.StatusConflict},
	{ErrTenantCancelled, http.StatusGone},
	{ErrAccountLocked, http.StatusLocked},
	{ErrSuspiciousActivity, http.StatusLocked},
	{ErrLoginRateLimited, http.StatusTooManyRequests},
	{ErrRefreshRateLimited, http.StatusTooManyRequests},
	{ErrResetRateLimited, http.StatusTooManyRequests},
	{ErrTenantContextMissing, http.StatusInternalServerError},
	{ErrInvalidRouteMode, http.StatusInternalServerError},
	{ErrEngineNotReady, http.StatusInternalServerError},
}

// HTTPStatus maps an error returned by the Engine onto an HTTP status code.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, row := range statusTable {
		if errors.Is(err, row.err) {
			return row.status
		}
	}
	return http.StatusInternalServerError
}

// PublicMessage is the generic client-facing message of err's sentinel.
// Internal errors never leak their text.
func PublicMessage(err error) string {
	for _, row := range statusTable {
		if errors.Is(err, row.err) {
			if row.status == http.StatusInternalServerError {
				break
			}
			return row.err.Error()
		}
	}
	return "internal server error"
}
