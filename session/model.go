package session

import "time"

// Logout reasons recorded on revoked sessions.
const (
	ReasonUserLogout       = "user_logout"
	ReasonLogoutAll        = "logout_all"
	ReasonRevokedByUser    = "revoked_by_user"
	ReasonRevokeOthers     = "revoke_others"
	ReasonAdminForceLogout = "admin_force_logout"
	ReasonPasswordChanged  = "password_changed"
	ReasonPasswordReset    = "password_reset"
	ReasonExpired          = "expired"
)

// DeviceInfo is derived from the User-Agent at login.
type DeviceInfo struct {
	Platform string `json:"platform"`
	Browser  string `json:"browser"`
	IsMobile bool   `json:"is_mobile"`
}

// Session is one logged-in device.
type Session struct {
	ID           string
	UserID       string
	TenantID     string
	IPAddress    string
	UserAgent    string
	Device       DeviceInfo
	LoginTime    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
	IsActive     bool
	LogoutReason string
}

// Valid reports whether the session is active and unexpired at now.
func (s Session) Valid(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// SessionInfo is the listing view of an active session.
type SessionInfo struct {
	SessionID    string     `json:"session_id"`
	IPAddress    string     `json:"ip_address"`
	UserAgent    string     `json:"user_agent"`
	Device       DeviceInfo `json:"device_info"`
	LoginTime    time.Time  `json:"login_time"`
	LastActivity time.Time  `json:"last_activity"`
	ExpiresAt    time.Time  `json:"expires_at"`
	IsCurrent    bool       `json:"is_current"`
}

// RefreshToken is the persisted revocation handle of a refresh JWT.
type RefreshToken struct {
	ID        string
	UserID    string
	SessionID string
	ExpiresAt time.Time
	IsRevoked bool
	RevokedAt *time.Time
	CreatedAt time.Time
}

// NewSession is the input of CreateSession. ID may be preassigned so the
// caller can sign tokens that name the session before it is persisted.
type NewSession struct {
	ID        string
	UserID    string
	TenantID  string
	IPAddress string
	UserAgent string
	Device    DeviceInfo
	LoginTime time.Time
	ExpiresAt time.Time
}

// Revoked counts what a revocation changed.
type Revoked struct {
	Sessions int `json:"sessions_revoked"`
	Tokens   int `json:"tokens_revoked"`
}
