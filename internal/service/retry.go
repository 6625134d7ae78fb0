// Package service holds the cross-cutting policies wrapped around reasoning
// calls: retry with exponential backoff and client-side rate limiting.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
)

// DetailRetryAfter is the DomainError detail key carrying the wait a rate
// limited endpoint asked for, as a time.Duration.
const DetailRetryAfter = "retry_after"

// RetryPolicy retries reasoning calls that failed with a retryable domain
// error. Delays grow exponentially from BaseDelay, capped at MaxDelay, and
// are spread by JitterFactor. A rate-limit error that carries a server
// supplied wait is never retried sooner than that wait.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0 to 1.0
	Multiplier   float64
}

// DefaultRetryPolicy returns three attempts starting at two seconds.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    2 * time.Second,
		MaxDelay:     time.Minute,
		JitterFactor: 0.2,
		Multiplier:   2.0,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxAttempts sets the number of attempts, the first one included.
func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxAttempts = n }
}

func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.BaseDelay = d }
}

func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxDelay = d }
}

func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) { p.JitterFactor = factor }
}

func WithMultiplier(m float64) RetryPolicyOption {
	return func(p *RetryPolicy) { p.Multiplier = m }
}

// NewRetryPolicy applies opts on top of DefaultRetryPolicy.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// RetryableFunc is one attempt of a retried operation.
type RetryableFunc func(ctx context.Context) error

// RetryNotifyFunc is called before each backoff wait.
type RetryNotifyFunc func(attempt int, err error, delay time.Duration)

// Execute runs fn until it succeeds, fails with a non-retryable error or
// runs out of attempts.
func (p *RetryPolicy) Execute(ctx context.Context, fn RetryableFunc) error {
	return p.ExecuteWithNotify(ctx, fn, nil)
}

// ExecuteWithNotify is Execute with a callback before every backoff wait.
// Exhaustion is reported as *RetryExhaustedError wrapping the last failure.
func (p *RetryPolicy) ExecuteWithNotify(ctx context.Context, fn RetryableFunc, notify RetryNotifyFunc) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || !core.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.delayFor(attempt, lastErr)
		if notify != nil {
			notify(attempt, lastErr, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &RetryExhaustedError{Attempts: p.MaxAttempts, LastErr: lastErr}
}

// CalculateDelay is the jittered backoff after the given attempt.
func (p *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delay := float64(p.CalculateDelayNoJitter(attempt))
	if p.JitterFactor > 0 {
		delay += (rand.Float64()*2 - 1) * delay * p.JitterFactor
	}
	return time.Duration(delay)
}

// CalculateDelayNoJitter is BaseDelay * Multiplier^(attempt-1), capped at
// MaxDelay.
func (p *RetryPolicy) CalculateDelayNoJitter(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	return time.Duration(math.Min(delay, float64(p.MaxDelay)))
}

func (p *RetryPolicy) delayFor(attempt int, err error) time.Duration {
	delay := p.CalculateDelay(attempt)
	if wait, ok := RetryAfter(err); ok && wait > delay {
		return wait
	}
	return delay
}

// RetryAfter extracts the server requested wait from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var derr *core.DomainError
	if !errors.As(err, &derr) || derr.Category != core.ErrCatRateLimit {
		return 0, false
	}
	wait, ok := derr.Details[DetailRetryAfter].(time.Duration)
	return wait, ok && wait > 0
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryExhaustedError reports that every attempt failed with a retryable
// error. Unwrap exposes the last failure so its category and code survive.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted reports whether err came from running out of attempts.
func IsRetryExhausted(err error) bool {
	var target *RetryExhaustedError
	return errors.As(err, &target)
}
