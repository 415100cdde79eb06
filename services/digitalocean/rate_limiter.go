package digitalocean

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// minLimit keeps backoff from stalling the limiter entirely (1 call / 5 min)
const minLimit = rate.Limit(1.0 / 300)

// RateLimiter is the token bucket shared by every completion call in the
// process. It slows down after 429 responses and recovers on success.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	base    rate.Limit
}

// RateLimiterConfig holds configuration for the rate limiter
type RateLimiterConfig struct {
	RequestsPerSecond float64 // Sustained rate (default: 1)
	Burst             int     // Max burst capacity (default: 3)
}

// DefaultRateLimiterConfig returns conservative defaults for the inference API
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 1,
		Burst:             3,
	}
}

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	defaults := DefaultRateLimiterConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}

	base := rate.Limit(config.RequestsPerSecond)
	return &RateLimiter{
		limiter: rate.NewLimiter(base, config.Burst),
		base:    base,
	}
}

// Wait blocks until a token is available or ctx is done
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// TryAcquire attempts to acquire a token without blocking
func (r *RateLimiter) TryAcquire() bool {
	return r.limiter.Allow()
}

// Limit returns the current sustained rate
func (r *RateLimiter) Limit() rate.Limit {
	return r.limiter.Limit()
}

// SetBackoffMultiplier divides the current rate by multiplier.
// Called after a 429 so that every in-flight pipeline slows down together.
func (r *RateLimiter) SetBackoffMultiplier(multiplier float64) {
	if multiplier <= 1 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.limiter.Limit() / rate.Limit(multiplier)
	if next < minLimit {
		next = minLimit
	}
	r.limiter.SetLimit(next)
}

// ResetToDefaults restores the configured rate
func (r *RateLimiter) ResetToDefaults() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limiter.Limit() != r.base {
		r.limiter.SetLimit(r.base)
	}
}
