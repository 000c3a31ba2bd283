package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrResetRateLimited      = errors.New("reset rate limited")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// PasswordResetConfig throttles reset requests per email and per IP.
type PasswordResetConfig struct {
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	Window                   time.Duration
	MaxAttempts              int
}

// DefaultPasswordResetConfig allows 3 requests per email per hour.
func DefaultPasswordResetConfig() PasswordResetConfig {
	return PasswordResetConfig{
		EnableIdentifierThrottle: true,
		EnableIPThrottle:         true,
		Window:                   time.Hour,
		MaxAttempts:              3,
	}
}

// PasswordResetLimiter is a fixed-window throttle on reset requests and
// confirmations. Reset requests arrive before any tenant is known, so keys
// are global.
type PasswordResetLimiter struct {
	redis  redis.UniversalClient
	config PasswordResetConfig
}

func NewPasswordResetLimiter(redisClient redis.UniversalClient, cfg PasswordResetConfig) *PasswordResetLimiter {
	return &PasswordResetLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckRequest counts a reset request for email from ip.
func (l *PasswordResetLimiter) CheckRequest(ctx context.Context, email, ip string) error {
	if l == nil {
		return nil
	}
	if l.config.EnableIdentifierThrottle {
		if err := l.enforceFixedWindow(ctx, requestIdentifierKey(email)); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceFixedWindow(ctx, requestIPKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

// CheckConfirm counts a reset confirmation from ip, so tokens cannot be
// guessed at speed.
func (l *PasswordResetLimiter) CheckConfirm(ctx context.Context, ip string) error {
	if l == nil || !l.config.EnableIPThrottle || ip == "" {
		return nil
	}
	return l.enforceFixedWindow(ctx, confirmIPKey(ip))
}

func (l *PasswordResetLimiter) Window() time.Duration {
	return l.config.Window
}

func (l *PasswordResetLimiter) enforceFixedWindow(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
		}
	}

	if count > int64(l.config.MaxAttempts) {
		return ErrResetRateLimited
	}

	return nil
}

func requestIdentifierKey(email string) string {
	return "ca:pr:e:" + strings.ToLower(strings.TrimSpace(email))
}

func requestIPKey(ip string) string {
	return "ca:pr:ip:" + ip
}

func confirmIPKey(ip string) string {
	return "ca:prc:ip:" + ip
}
