package clinicauth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/clinicauth/eligibility"
	"github.com/MrEthical07/clinicauth/password"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the engine.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT            JWTConfig
	Session        SessionConfig
	Password       PasswordConfig
	PasswordReset  PasswordResetConfig
	Security       SecurityConfig
	Tenant         TenantConfig
	Billing        BillingConfig
	RateLimit      RateLimitConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	ValidationMode ValidationMode
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access and refresh token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default), "ed25519" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	KeyID         string
	Leeway        time.Duration
	// MaxClockSkew rejects access tokens issued further in the future than
	// this. Negative disables the check.
	MaxClockSkew time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures persisted login sessions.
type SessionConfig struct {
	// Lifetime bounds a session from login. Refresh does not extend it.
	Lifetime            time.Duration
	RotateRefreshTokens bool
	// CleanupInterval is how often the server deactivates expired sessions.
	CleanupInterval time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the argon2id cost parameters and the password policy.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MinLength      int
	MinEntropyBits float64
	MaxAge         time.Duration
	HistorySize    int

	BreachCheck         bool
	BreachAPIURL        string
	BreachThreshold     int
	BreachTimeout       time.Duration
	OnBreachUnavailable password.OnUnavailable

	// TemporaryLength is the length of generated temporary passwords.
	TemporaryLength int
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig configures reset tokens and their request throttle.
type PasswordResetConfig struct {
	Enabled                  bool
	ResetTTL                 time.Duration
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	MaxAttempts              int
	Window                   time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig configures the account lockout monitor.
type SecurityConfig struct {
	EnableLockout       bool
	MaxFailedAttempts   int
	FailureWindow       time.Duration
	LockoutDuration     time.Duration
	SuspiciousThreshold int
	SuspiciousWindow    time.Duration
}

/*
====================================
TENANT CONFIG
====================================
*/

// TenantConfig configures tenant resolution on HTTP requests.
type TenantConfig struct {
	// BypassPrefixes are served without tenant resolution.
	BypassPrefixes []string
}

/*
====================================
BILLING CONFIG
====================================
*/

// BillingConfig configures the remote subscription check of tenant
// eligibility. An empty APIURL disables it.
type BillingConfig struct {
	APIURL        string
	APIKey        string
	Timeout       time.Duration
	OnUnavailable eligibility.OnUnavailable
	// UsageChecks compares tenant usage against plan limits at login.
	UsageChecks bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the redis-backed login and refresh budgets.
type RateLimitConfig struct {
	EnableLoginThrottle   bool
	MaxLoginPerIP         int
	LoginWindow           time.Duration
	EnableRefreshThrottle bool
	MaxRefreshPerSession  int
	RefreshWindow         time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig configures the asynchronous security-event dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig configures the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
VALIDATION MODE
====================================
*/

// ValidationMode selects how much state Validate consults.
type ValidationMode int

const (
	// ModeInherit uses the engine's configured mode. Valid only per route.
	ModeInherit ValidationMode = -1
	// ModeJWTOnly trusts a valid signature and expiry.
	ModeJWTOnly ValidationMode = iota - 1
	// ModeStrict also requires the session to be active in the database.
	ModeStrict
)

// RouteMode is the per-route override of ValidationMode.
type RouteMode = ValidationMode

func (m ValidationMode) String() string {
	switch m {
	case ModeInherit:
		return "inherit"
	case ModeJWTOnly:
		return "jwt_only"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the clinic defaults. JWT keys must still be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	policy := password.DefaultPolicyConfig()

	return Config{
		JWT: JWTConfig{
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "clinicauth",
			Leeway:        30 * time.Second,
			MaxClockSkew:  30 * time.Second,
		},
		Session: SessionConfig{
			Lifetime:            7 * 24 * time.Hour,
			RotateRefreshTokens: true,
			CleanupInterval:     15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:              64 * 1024,
			Time:                1,
			Parallelism:         4,
			SaltLength:          16,
			KeyLength:           32,
			MinLength:           policy.MinLength,
			MinEntropyBits:      policy.MinEntropyBits,
			MaxAge:              policy.MaxAge,
			HistorySize:         policy.HistorySize,
			BreachCheck:         true,
			BreachAPIURL:        "https://api.pwnedpasswords.com",
			BreachThreshold:     policy.BreachThreshold,
			BreachTimeout:       5 * time.Second,
			OnBreachUnavailable: password.FailOpen,
			TemporaryLength:     12,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:                  true,
			ResetTTL:                 24 * time.Hour,
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			MaxAttempts:              3,
			Window:                   time.Hour,
		},
		Security: SecurityConfig{
			EnableLockout:       true,
			MaxFailedAttempts:   5,
			FailureWindow:       30 * time.Minute,
			LockoutDuration:     30 * time.Minute,
			SuspiciousThreshold: 10,
			SuspiciousWindow:    time.Hour,
		},
		Tenant: TenantConfig{
			BypassPrefixes: append([]string(nil), tenant.DefaultBypassPrefixes...),
		},
		Billing: BillingConfig{
			Timeout:       5 * time.Second,
			OnUnavailable: eligibility.FailOpen,
			UsageChecks:   true,
		},
		RateLimit: RateLimitConfig{
			EnableLoginThrottle:   true,
			MaxLoginPerIP:         5,
			LoginWindow:           time.Minute,
			EnableRefreshThrottle: false,
			MaxRefreshPerSession:  30,
			RefreshWindow:         time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		ValidationMode: ModeStrict,
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Tenant.BypassPrefixes = append([]string(nil), cfg.Tenant.BypassPrefixes...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}
	if c.Session.CleanupInterval < 0 {
		return errors.New("Session CleanupInterval must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.HistorySize < 0 {
		return errors.New("Password HistorySize must be >= 0")
	}
	if c.Password.BreachCheck {
		if c.Password.BreachAPIURL == "" {
			return errors.New("Password BreachAPIURL is required when BreachCheck is enabled")
		}
		if c.Password.BreachTimeout <= 0 {
			return errors.New("Password BreachTimeout must be > 0")
		}
	}
	if c.Password.TemporaryLength != 0 && c.Password.TemporaryLength < c.Password.MinLength {
		return errors.New("Password TemporaryLength must be >= MinLength")
	}

	// Password reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.ResetTTL <= 0 {
			return errors.New("PasswordReset ResetTTL must be > 0")
		}
		if c.PasswordReset.MaxAttempts <= 0 {
			return errors.New("PasswordReset MaxAttempts must be > 0")
		}
		if c.PasswordReset.Window <= 0 {
			return errors.New("PasswordReset Window must be > 0")
		}
	}

	// Security
	if c.Security.EnableLockout {
		if c.Security.MaxFailedAttempts <= 0 {
			return errors.New("Security MaxFailedAttempts must be > 0")
		}
		if c.Security.FailureWindow <= 0 || c.Security.LockoutDuration <= 0 {
			return errors.New("Security FailureWindow and LockoutDuration must be > 0")
		}
		if c.Security.SuspiciousThreshold > 0 && c.Security.SuspiciousThreshold <= c.Security.MaxFailedAttempts {
			return errors.New("Security SuspiciousThreshold must exceed MaxFailedAttempts")
		}
	}

	// Tenant
	for _, p := range c.Tenant.BypassPrefixes {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Tenant BypassPrefixes must start with /")
		}
	}

	// Billing
	if c.Billing.APIURL != "" && c.Billing.Timeout <= 0 {
		return errors.New("Billing Timeout must be > 0")
	}

	// Rate limits
	if c.RateLimit.EnableLoginThrottle && (c.RateLimit.MaxLoginPerIP <= 0 || c.RateLimit.LoginWindow <= 0) {
		return errors.New("RateLimit login budget must be > 0")
	}
	if c.RateLimit.EnableRefreshThrottle && (c.RateLimit.MaxRefreshPerSession <= 0 || c.RateLimit.RefreshWindow <= 0) {
		return errors.New("RateLimit refresh budget must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	switch c.ValidationMode {
	case ModeJWTOnly, ModeStrict:
	default:
		return errors.New("ValidationMode must be ModeJWTOnly or ModeStrict")
	}
	return nil
}

/*
====================================
ENVIRONMENT
====================================
*/

// LoadConfigFromEnv starts from DefaultConfig and applies CLINICAUTH_*
// variables. A .env file in the working directory is loaded first when
// present; variables already set in the process win.
func LoadConfigFromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	var err error
	env := envReader{}

	cfg.JWT.SigningMethod = strings.ToLower(env.str("CLINICAUTH_JWT_SIGNING_METHOD", cfg.JWT.SigningMethod))
	switch cfg.JWT.SigningMethod {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(os.Getenv("CLINICAUTH_JWT_SECRET"))
	case "ed25519":
		if cfg.JWT.PrivateKey, err = decodeKey(os.Getenv("CLINICAUTH_JWT_PRIVATE_KEY")); err != nil {
			return Config{}, fmt.Errorf("CLINICAUTH_JWT_PRIVATE_KEY: %w", err)
		}
		if cfg.JWT.PublicKey, err = decodeKey(os.Getenv("CLINICAUTH_JWT_PUBLIC_KEY")); err != nil {
			return Config{}, fmt.Errorf("CLINICAUTH_JWT_PUBLIC_KEY: %w", err)
		}
	}
	cfg.JWT.Issuer = env.str("CLINICAUTH_JWT_ISSUER", cfg.JWT.Issuer)
	cfg.JWT.Audience = env.str("CLINICAUTH_JWT_AUDIENCE", cfg.JWT.Audience)
	cfg.JWT.KeyID = env.str("CLINICAUTH_JWT_KEY_ID", cfg.JWT.KeyID)
	cfg.JWT.AccessTTL = env.duration("CLINICAUTH_ACCESS_TTL", cfg.JWT.AccessTTL)
	cfg.JWT.RefreshTTL = env.duration("CLINICAUTH_REFRESH_TTL", cfg.JWT.RefreshTTL)

	cfg.Session.Lifetime = env.duration("CLINICAUTH_SESSION_LIFETIME", cfg.Session.Lifetime)
	cfg.Session.RotateRefreshTokens = env.boolean("CLINICAUTH_ROTATE_REFRESH_TOKENS", cfg.Session.RotateRefreshTokens)
	cfg.Session.CleanupInterval = env.duration("CLINICAUTH_CLEANUP_INTERVAL", cfg.Session.CleanupInterval)

	cfg.Password.BreachCheck = env.boolean("CLINICAUTH_BREACH_CHECK", cfg.Password.BreachCheck)
	cfg.Password.BreachAPIURL = env.str("CLINICAUTH_BREACH_API_URL", cfg.Password.BreachAPIURL)
	if env.boolean("CLINICAUTH_BREACH_FAIL_CLOSED", false) {
		cfg.Password.OnBreachUnavailable = password.FailClosed
	}

	cfg.PasswordReset.ResetTTL = env.duration("CLINICAUTH_RESET_TTL", cfg.PasswordReset.ResetTTL)
	cfg.PasswordReset.MaxAttempts = env.integer("CLINICAUTH_RESET_MAX_REQUESTS", cfg.PasswordReset.MaxAttempts)

	cfg.Security.EnableLockout = env.boolean("CLINICAUTH_LOCKOUT_ENABLED", cfg.Security.EnableLockout)
	cfg.Security.MaxFailedAttempts = env.integer("CLINICAUTH_LOCKOUT_MAX_ATTEMPTS", cfg.Security.MaxFailedAttempts)
	cfg.Security.LockoutDuration = env.duration("CLINICAUTH_LOCKOUT_DURATION", cfg.Security.LockoutDuration)

	cfg.Billing.APIURL = env.str("CLINICAUTH_BILLING_API_URL", cfg.Billing.APIURL)
	cfg.Billing.APIKey = env.str("CLINICAUTH_BILLING_API_KEY", cfg.Billing.APIKey)
	if env.boolean("CLINICAUTH_BILLING_FAIL_CLOSED", false) {
		cfg.Billing.OnUnavailable = eligibility.FailClosed
	}

	cfg.RateLimit.MaxLoginPerIP = env.integer("CLINICAUTH_LOGIN_MAX_PER_IP", cfg.RateLimit.MaxLoginPerIP)
	cfg.RateLimit.LoginWindow = env.duration("CLINICAUTH_LOGIN_WINDOW", cfg.RateLimit.LoginWindow)
	cfg.RateLimit.EnableRefreshThrottle = env.boolean("CLINICAUTH_REFRESH_THROTTLE", cfg.RateLimit.EnableRefreshThrottle)

	cfg.Metrics.Enabled = env.boolean("CLINICAUTH_METRICS_ENABLED", cfg.Metrics.Enabled)

	switch strings.ToLower(env.str("CLINICAUTH_VALIDATION_MODE", cfg.ValidationMode.String())) {
	case "jwt_only":
		cfg.ValidationMode = ModeJWTOnly
	case "strict":
		cfg.ValidationMode = ModeStrict
	default:
		env.fail("CLINICAUTH_VALIDATION_MODE", errors.New("must be jwt_only or strict"))
	}

	if env.err != nil {
		return Config{}, env.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envReader collects the first parse failure so callers check once.
type envReader struct {
	err error
}

func (r *envReader) fail(key string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%s: %w", key, err)
	}
}

func (r *envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *envReader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *envReader) boolean(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return b
}

// decodeKey accepts a PEM block or base64 of the raw key bytes.
func decodeKey(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasPrefix(v, "-----BEGIN") {
		return []byte(v), nil
	}
	return base64.StdEncoding.DecodeString(v)
}
