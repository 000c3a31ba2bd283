package clinicauth

import (
	"time"

	"github.com/MrEthical07/clinicauth/internal/stores"
	"github.com/MrEthical07/clinicauth/permission"
	"github.com/MrEthical07/clinicauth/session"
)

// LoginRequest is the body of a login. Client IP and user agent travel in
// the context, see WithClientIP and WithUserAgent.
type LoginRequest struct {
	Email    string
	Password string
	// TenantSlug scopes the login to one practice. Optional.
	TenantSlug string
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	SessionID    string
	UserID       string
	TenantID     string
	Role         permission.Role
	// PasswordResetRequired is set when the password has aged out. The
	// tokens are still issued.
	PasswordResetRequired bool
}

// TokenPair is returned by [Engine.Refresh]. RefreshToken is empty when
// rotation is disabled and the presented token stays valid.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    time.Duration
	SessionID    string
}

// AuthResult is the identity behind a validated access token. Handlers pass
// it back to the engine as the caller of session and account operations.
type AuthResult struct {
	UserID    string
	TenantID  string
	SessionID string
	Email     string
	Role      permission.Role
	LoginTime time.Time
	ExpiresAt time.Time
}

// Can reports whether the caller's role grants c.
func (a *AuthResult) Can(c permission.Capability) bool {
	return a != nil && permission.HasCapability(a.Role, c)
}

// LogoutResult counts what a logout or revocation deactivated.
type LogoutResult struct {
	SessionsRevoked int `json:"sessions_revoked"`
	TokensRevoked   int `json:"tokens_revoked"`
}

func logoutResult(r session.Revoked) LogoutResult {
	return LogoutResult{SessionsRevoked: r.Sessions, TokensRevoked: r.Tokens}
}

// SessionInfo is the listing view of a session. It carries no token material.
type SessionInfo = session.SessionInfo

// LoginStats summarises login attempts of one tenant.
type LoginStats = stores.LoginStats

// CreateUserInput is an administrator's request to add a user to their
// practice. An empty Password makes the engine generate a temporary one.
type CreateUserInput struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
	Role      string
}

// CreateUserResult is returned by [Engine.CreateUser]. TemporaryPassword is
// set only when the engine generated it, and is never retrievable again.
type CreateUserResult struct {
	UserID            string
	TenantID          string
	Email             string
	Role              permission.Role
	TemporaryPassword string
	ResetRequired     bool
}

// CleanupResult counts what the cleanup job deactivated.
type CleanupResult struct {
	Sessions    int
	Tokens      int
	ResetTokens int
}

func (c *CleanupResult) add(o CleanupResult) {
	c.Sessions += o.Sessions
	c.Tokens += o.Tokens
	c.ResetTokens += o.ResetTokens
}

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	DatabaseAvailable bool
	DatabaseLatency   time.Duration
	RedisAvailable    bool
	RedisLatency      time.Duration
}

// Healthy reports whether every backend answered.
func (h HealthStatus) Healthy() bool {
	return h.DatabaseAvailable && h.RedisAvailable
}
