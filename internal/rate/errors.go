package rate

import "errors"

var (
	// ErrRateLimited is returned when a fixed window budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable is returned when the counter backend fails.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
