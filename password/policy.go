package password

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
)

// SpecialChars is the accepted special-character class.
const SpecialChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"

const (
	poolLower   = 26
	poolUpper   = 26
	poolDigit   = 10
	poolSpecial = 22
)

// Reason identifies a single policy violation.
type Reason string

const (
	ReasonTooShort               Reason = "too_short"
	ReasonNoUpper                Reason = "no_uppercase"
	ReasonNoLower                Reason = "no_lowercase"
	ReasonNoDigit                Reason = "no_digit"
	ReasonNoSpecial              Reason = "no_special"
	ReasonCommon                 Reason = "common_password"
	ReasonBreached               Reason = "breached_password"
	ReasonBreachCheckUnavailable Reason = "breach_check_unavailable"
	ReasonLowEntropy             Reason = "low_entropy"
)

var reasonMessages = map[Reason]string{
	ReasonTooShort:               "Password is too short",
	ReasonNoUpper:                "Password must contain at least one uppercase letter",
	ReasonNoLower:                "Password must contain at least one lowercase letter",
	ReasonNoDigit:                "Password must contain at least one number",
	ReasonNoSpecial:              "Password must contain at least one special character",
	ReasonCommon:                 "This password is too common",
	ReasonBreached:               "This password has appeared in a data breach",
	ReasonBreachCheckUnavailable: "Password breach check is unavailable, try again later",
	ReasonLowEntropy:             "Password is not complex enough",
}

// Message returns the user-facing text for r.
func (r Reason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return string(r)
}

// OnUnavailable selects what a remote check does when its backend cannot answer.
type OnUnavailable uint8

const (
	// FailOpen treats an unreachable backend as a pass and logs a warning.
	FailOpen OnUnavailable = iota
	// FailClosed treats an unreachable backend as a failure.
	FailClosed
)

func (o OnUnavailable) String() string {
	if o == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

// PolicyConfig tunes [Policy].
type PolicyConfig struct {
	MinLength       int
	MinEntropyBits  float64
	BreachThreshold int
	MaxAge          time.Duration
	HistorySize     int
	BreachCheck     bool
	OnBreachOutage  OnUnavailable
}

// DefaultPolicyConfig returns the clinic defaults.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinLength:       8,
		MinEntropyBits:  60,
		BreachThreshold: 10,
		MaxAge:          90 * 24 * time.Hour,
		HistorySize:     5,
		BreachCheck:     true,
		OnBreachOutage:  FailOpen,
	}
}

// BreachChecker returns how many times password appears in a breach corpus.
type BreachChecker interface {
	Count(ctx context.Context, password string) (int, error)
}

// Policy validates candidate passwords. It is safe for concurrent use.
type Policy struct {
	cfg    PolicyConfig
	breach BreachChecker
	logger *zap.Logger
}

// NewPolicy builds a policy. breach may be nil, which disables the remote lookup.
func NewPolicy(cfg PolicyConfig, breach BreachChecker, logger *zap.Logger) *Policy {
	if cfg.MinLength <= 0 {
		cfg.MinLength = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{cfg: cfg, breach: breach, logger: logger}
}

// Validate runs every rule and returns all violations. ok is true only
// when the list is empty.
func (p *Policy) Validate(ctx context.Context, password string) (bool, []Reason) {
	violations := p.ValidateLocal(password)

	if p.cfg.BreachCheck && p.breach != nil {
		if r, failed := p.checkBreach(ctx, password); failed {
			violations = append(violations, r)
		}
	}

	return len(violations) == 0, violations
}

// ValidateLocal runs the rules that need no network access.
func (p *Policy) ValidateLocal(password string) []Reason {
	var violations []Reason

	if len([]rune(password)) < p.cfg.MinLength {
		violations = append(violations, ReasonTooShort)
	}

	classes := classify(password)
	if !classes.upper {
		violations = append(violations, ReasonNoUpper)
	}
	if !classes.lower {
		violations = append(violations, ReasonNoLower)
	}
	if !classes.digit {
		violations = append(violations, ReasonNoDigit)
	}
	if !classes.special {
		violations = append(violations, ReasonNoSpecial)
	}
	if IsCommon(password) {
		violations = append(violations, ReasonCommon)
	}
	if p.cfg.MinEntropyBits > 0 && Entropy(password) < p.cfg.MinEntropyBits {
		violations = append(violations, ReasonLowEntropy)
	}

	return violations
}

func (p *Policy) checkBreach(ctx context.Context, password string) (Reason, bool) {
	count, err := p.breach.Count(ctx, password)
	if err != nil {
		if p.cfg.OnBreachOutage == FailClosed {
			p.logger.Warn("password breach check unavailable, rejecting", zap.Error(err))
			return ReasonBreachCheckUnavailable, true
		}
		p.logger.Warn("password breach check unavailable, allowing", zap.Error(err))
		return "", false
	}
	if count > p.cfg.BreachThreshold {
		return ReasonBreached, true
	}
	return "", false
}

// IsExpired reports whether a password last changed at changedAt is older
// than the configured maximum age. A zero changedAt is never expired.
func (p *Policy) IsExpired(changedAt, now time.Time) bool {
	if p.cfg.MaxAge <= 0 || changedAt.IsZero() {
		return false
	}
	return now.Sub(changedAt) > p.cfg.MaxAge
}

type charClasses struct {
	upper, lower, digit, special bool
}

func classify(password string) charClasses {
	var c charClasses
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		case strings.ContainsRune(SpecialChars, r):
			c.special = true
		}
	}
	return c
}

// Entropy estimates password strength as length × log2(pool), where the
// pool grows with each character class present.
func Entropy(password string) float64 {
	c := classify(password)
	pool := 0
	if c.lower {
		pool += poolLower
	}
	if c.upper {
		pool += poolUpper
	}
	if c.digit {
		pool += poolDigit
	}
	if c.special {
		pool += poolSpecial
	}
	if pool == 0 {
		return 0
	}
	return float64(len([]rune(password))) * math.Log2(float64(pool))
}
