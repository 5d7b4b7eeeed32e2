package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Config holds outbound rate limiting and retry settings.
type Config struct {
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
	MaxRetries        int     `json:"maxRetries"`
	InitialBackoffMs  int     `json:"initialBackoffMs"`
	MaxBackoffMs      int     `json:"maxBackoffMs"`
}

// DefaultConfig returns the default outbound settings
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		Burst:             5,
		MaxRetries:        3,
		InitialBackoffMs:  200,
		MaxBackoffMs:      10000,
	}
}

// RateLimiter is a token bucket shared by every request of one client.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter from config. A non-positive rate disables
// throttling.
func NewRateLimiter(config Config) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)}
}

// Throttle blocks until a request may be sent or ctx is done.
func (r *RateLimiter) Throttle(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
