package clinicauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/clinicauth/eligibility"
	"github.com/MrEthical07/clinicauth/internal/audit"
	"github.com/MrEthical07/clinicauth/internal/limiters"
	"github.com/MrEthical07/clinicauth/internal/rate"
	"github.com/MrEthical07/clinicauth/internal/stores"
	"github.com/MrEthical07/clinicauth/jwt"
	"github.com/MrEthical07/clinicauth/password"
	"github.com/MrEthical07/clinicauth/session"
	"github.com/MrEthical07/clinicauth/tenant"
	"github.com/MrEthical07/clinicauth/user"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ResetDelivery hands a plaintext reset token to the mail collaborator.
// It runs on the request goroutine; a returned error is logged, never
// reported to the requester.
type ResetDelivery func(ctx context.Context, u user.User, token string, expiresAt time.Time) error

// Builder assembles an [Engine]. A Builder is single use.
type Builder struct {
	config Config
	db     tenant.DB
	redis  redis.UniversalClient
	logger *zap.Logger

	auditSink     AuditSink
	billing       eligibility.BillingClient
	breach        password.BreachChecker
	resetDelivery ResetDelivery
	now           func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithDB sets the Postgres pool. Every store shares it; row-level security
// scopes each transaction to one tenant.
func (b *Builder) WithDB(db tenant.DB) *Builder {
	b.db = db
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink adds a sink next to the security_events table and the log.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithBillingClient overrides the HTTP billing client built from
// Config.Billing.
func (b *Builder) WithBillingClient(c eligibility.BillingClient) *Builder {
	b.billing = c
	return b
}

// WithBreachChecker overrides the Pwned Passwords client built from
// Config.Password.
func (b *Builder) WithBreachChecker(c password.BreachChecker) *Builder {
	b.breach = c
	return b
}

func (b *Builder) WithResetDelivery(fn ResetDelivery) *Builder {
	b.resetDelivery = fn
	return b
}

// WithClock overrides time.Now for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.db == nil {
		return nil, errors.New("database pool required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config: cfg,
		logger: logger,
		db:     b.db,
		redis:  b.redis,
		now:    now,
	}

	// -------- STORES --------
	engine.users = user.NewPgStore(b.db)
	engine.tenants = tenant.NewPgStore(b.db)
	engine.resolver = tenant.NewResolver(engine.tenants)
	engine.sessionStore = session.NewStore(b.db)
	engine.attempts = stores.NewLoginAttemptStore(b.db)
	engine.resetTokens = stores.NewResetTokenStore(b.db)
	engine.securityEvents = stores.NewSecurityEventStore(b.db, logger)

	// -------- AUDIT --------
	sinks := audit.MultiSink{engine.securityEvents, audit.NewZapSink(logger)}
	if b.auditSink != nil {
		sinks = append(sinks, b.auditSink)
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sinks)
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- LIMITERS --------
	engine.rateLimiter = rate.New(b.redis, rate.Config{
		EnableLoginThrottle:   cfg.RateLimit.EnableLoginThrottle,
		MaxLoginPerIP:         cfg.RateLimit.MaxLoginPerIP,
		LoginWindow:           cfg.RateLimit.LoginWindow,
		EnableRefreshThrottle: cfg.RateLimit.EnableRefreshThrottle,
		MaxRefreshPerSession:  cfg.RateLimit.MaxRefreshPerSession,
		RefreshWindow:         cfg.RateLimit.RefreshWindow,
	})
	engine.resetLimiter = limiters.NewPasswordResetLimiter(b.redis, limiters.PasswordResetConfig{
		EnableIdentifierThrottle: cfg.PasswordReset.EnableIdentifierThrottle,
		EnableIPThrottle:         cfg.PasswordReset.EnableIPThrottle,
		Window:                   cfg.PasswordReset.Window,
		MaxAttempts:              cfg.PasswordReset.MaxAttempts,
	})
	engine.lockout = limiters.NewLockoutMonitor(engine.attempts, engine.users, limiters.LockoutConfig{
		Enabled:             cfg.Security.EnableLockout,
		MaxAttempts:         cfg.Security.MaxFailedAttempts,
		Window:              cfg.Security.FailureWindow,
		Duration:            cfg.Security.LockoutDuration,
		SuspiciousThreshold: cfg.Security.SuspiciousThreshold,
		SuspiciousWindow:    cfg.Security.SuspiciousWindow,
	}, engine.onLock)

	// -------- ELIGIBILITY --------
	billing := b.billing
	if billing == nil && cfg.Billing.APIURL != "" {
		billing = eligibility.NewHTTPBillingClient(cfg.Billing.APIURL, cfg.Billing.APIKey, cfg.Billing.Timeout)
	}
	var usage eligibility.UsageCounter
	if cfg.Billing.UsageChecks {
		usage = eligibility.NewPgUsage(b.db)
	}
	engine.eligibility = eligibility.New(usage, billing, eligibility.Config{
		BillingTimeout:       cfg.Billing.Timeout,
		OnBillingUnavailable: cfg.Billing.OnUnavailable,
	}, logger.Named("eligibility"))

	// -------- PASSWORDS --------
	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph
	// Unknown users are verified against this hash so both failures cost
	// the same.
	if engine.dummyHash, err = ph.Hash("clinicauth-timing-equalizer"); err != nil {
		return nil, err
	}

	breach := b.breach
	if breach == nil && cfg.Password.BreachCheck {
		breach = password.NewPwnedClient(cfg.Password.BreachAPIURL, cfg.Password.BreachTimeout)
	}
	engine.policy = password.NewPolicy(password.PolicyConfig{
		MinLength:       cfg.Password.MinLength,
		MinEntropyBits:  cfg.Password.MinEntropyBits,
		BreachThreshold: cfg.Password.BreachThreshold,
		MaxAge:          cfg.Password.MaxAge,
		HistorySize:     cfg.Password.HistorySize,
		BreachCheck:     cfg.Password.BreachCheck && breach != nil,
		OnBreachOutage:  cfg.Password.OnBreachUnavailable,
	}, breach, logger.Named("password"))

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	engine.resetDelivery = b.resetDelivery
	if engine.resetDelivery == nil {
		engine.resetDelivery = func(_ context.Context, u user.User, _ string, expiresAt time.Time) error {
			logger.Warn("no reset delivery configured, token discarded",
				zap.String("user_id", u.ID),
				zap.Time("expires_at", expiresAt))
			return nil
		}
	}

	engine.flow = engine.buildFlows()
	b.built = true

	return engine, nil
}
