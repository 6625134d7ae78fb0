package service

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket shared by every session of a process, so a
// batch run stays under the provider's requests-per-minute quota.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	perSecond  float64
	lastRefill time.Time
}

// RateLimiterConfig sizes the bucket.
type RateLimiterConfig struct {
	MaxTokens  float64 // burst capacity
	RefillRate float64 // tokens per second
}

// PerMinute allows rpm requests per minute with a burst of a tenth of
// that, at least one.
func PerMinute(rpm int) RateLimiterConfig {
	return RateLimiterConfig{
		MaxTokens:  max(float64(rpm)/10, 1),
		RefillRate: float64(rpm) / 60,
	}
}

// NewRateLimiter starts with a full bucket.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		tokens:     cfg.MaxTokens,
		capacity:   cfg.MaxTokens,
		perSecond:  cfg.RefillRate,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until a token is available or ctx is done.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		wait := r.take()
		if wait == 0 {
			return nil
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// TryAcquire takes a token if one is available right now.
func (r *RateLimiter) TryAcquire() bool {
	return r.take() == 0
}

// Available returns the current, possibly fractional, token count.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill(time.Now())
	return r.tokens
}

// take consumes a token and returns 0, or returns how long until one is
// whole again.
func (r *RateLimiter) take() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill(time.Now())
	if r.tokens >= 1 {
		r.tokens--
		return 0
	}
	return max(time.Duration((1-r.tokens)/r.perSecond*float64(time.Second)), time.Millisecond)
}

func (r *RateLimiter) refill(now time.Time) {
	r.tokens = min(r.capacity, r.tokens+now.Sub(r.lastRefill).Seconds()*r.perSecond)
	r.lastRefill = now
}
