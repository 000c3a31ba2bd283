package audit

// Security event types. These are the event_type values persisted to
// security_events.
const (
	EventLoginSuccess          = "login_success"
	EventLoginFailure          = "login_failure"
	EventLoginRateLimited      = "login_rate_limited"
	EventAccountLocked         = "account_locked"
	EventSuspiciousActivity    = "suspicious_activity"
	EventTenantIneligible      = "tenant_ineligible"
	EventTenantSourceConflict  = "tenant_source_conflict"
	EventRefreshSuccess        = "refresh_success"
	EventRefreshInvalid        = "refresh_invalid"
	EventRefreshRevoked        = "refresh_revoked"
	EventLogoutSession         = "logout_session"
	EventLogoutAll             = "logout_all"
	EventSessionRevoked        = "session_revoked"
	EventForceLogout           = "admin_force_logout"
	EventPasswordChanged       = "password_changed"
	EventPasswordChangeFailure = "password_change_failure"
	EventPasswordResetRequest  = "password_reset_request"
	EventPasswordResetConfirm  = "password_reset_confirm"
	EventPasswordResetInvalid  = "password_reset_invalid"
	EventUserCreated           = "user_created"
)

// Failure codes carried in Event.Error.
const (
	ErrCodeInvalidInput       = "invalid_input"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeAccountLocked      = "account_locked"
	ErrCodeTenantNotFound     = "tenant_not_found"
	ErrCodeTenantIneligible   = "tenant_ineligible"
	ErrCodeUserInactive       = "user_inactive"
	ErrCodeResetRequired      = "password_reset_required"
	ErrCodeReauthRequired     = "reauthentication_required"
	ErrCodeTenantMismatch     = "tenant_mismatch"
	ErrCodeSessionCreation    = "session_creation_failed"
	ErrCodeTokenInvalid       = "invalid_token"
	ErrCodeTokenRevoked       = "token_revoked"
	ErrCodePasswordPolicy     = "password_policy"
	ErrCodePasswordReuse      = "password_reuse"
	ErrCodeRateLimited        = "rate_limited"
)
