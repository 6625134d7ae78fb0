package service

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/siliconcrew/internal/core"
	"github.com/hugo-lorenzo-mato/siliconcrew/internal/logging"
)

// ResilientClient wraps a reasoning client with an optional shared rate
// limiter and a retry policy. Only errors marked retryable are retried.
type ResilientClient struct {
	inner   core.ReasoningClient
	policy  *RetryPolicy
	limiter *RateLimiter
	logger  *logging.Logger
}

// NewResilientClient wraps inner. A nil policy means a single attempt and a
// nil limiter disables rate limiting.
func NewResilientClient(inner core.ReasoningClient, policy *RetryPolicy, limiter *RateLimiter, logger *logging.Logger) *ResilientClient {
	if policy == nil {
		policy = NewRetryPolicy(WithMaxAttempts(1))
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ResilientClient{inner: inner, policy: policy, limiter: limiter, logger: logger}
}

// Complete implements core.ReasoningClient.
func (c *ResilientClient) Complete(ctx context.Context, messages []core.Message, tools []core.ToolSpec) (*core.Completion, error) {
	var out *core.Completion
	err := c.policy.ExecuteWithNotify(ctx, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return err
			}
		}
		resp, err := c.inner.Complete(ctx, messages, tools)
		if err != nil {
			return err
		}
		out = resp
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		c.logger.Warn("reasoning call failed, retrying",
			"attempt", attempt,
			"delay", delay.Round(time.Millisecond).String(),
			"error", err)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
