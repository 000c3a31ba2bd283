package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableLoginThrottle   bool
	MaxLoginPerIP         int
	LoginWindow           time.Duration
	EnableRefreshThrottle bool
	MaxRefreshPerSession  int
	RefreshWindow         time.Duration
}

// DefaultConfig allows 5 login requests per minute per IP.
func DefaultConfig() Config {
	return Config{
		EnableLoginThrottle:   true,
		MaxLoginPerIP:         5,
		LoginWindow:           time.Minute,
		EnableRefreshThrottle: false,
		MaxRefreshPerSession:  30,
		RefreshWindow:         time.Minute,
	}
}

// Limiter enforces per-IP login and per-session refresh budgets using Redis
// counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// AllowLogin counts one login request from ip. Every request counts, not
// only failures. When the budget is spent it returns ErrRateLimited and the
// time until the window resets.
func (l *Limiter) AllowLogin(ctx context.Context, ip string) (time.Duration, error) {
	if l == nil || !l.config.EnableLoginThrottle || ip == "" {
		return 0, nil
	}
	return l.allow(ctx, loginIPKey(ip), l.config.MaxLoginPerIP, l.config.LoginWindow)
}

// AllowRefresh counts one refresh of sessionID.
func (l *Limiter) AllowRefresh(ctx context.Context, sessionID string) (time.Duration, error) {
	if l == nil || !l.config.EnableRefreshThrottle || sessionID == "" {
		return 0, nil
	}
	return l.allow(ctx, refreshKey(sessionID), l.config.MaxRefreshPerSession, l.config.RefreshWindow)
}

// ResetLogin clears the login counter of ip.
func (l *Limiter) ResetLogin(ctx context.Context, ip string) error {
	if l == nil || ip == "" {
		return nil
	}
	if err := l.redis.Del(ctx, loginIPKey(ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping reports Redis reachability for health checks.
func (l *Limiter) Ping(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) allow(ctx context.Context, key string, max int, window time.Duration) (time.Duration, error) {
	count, err := l.incrementWithTTL(ctx, key, window)
	if err != nil {
		return 0, err
	}
	if count <= int64(max) {
		return 0, nil
	}
	ttl, err := l.redis.PTTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}
	return ttl, ErrRateLimited
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func loginIPKey(ip string) string {
	return "ca:rl:login:" + ip
}

func refreshKey(sessionID string) string {
	return "ca:rl:refresh:" + sessionID
}
