package service

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenBlock(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxTokens: 2, RefillRate: 0.001})

	if !rl.TryAcquire() || !rl.TryAcquire() {
		t.Fatal("burst of two should be available")
	}
	if rl.TryAcquire() {
		t.Error("third acquire should fail until refill")
	}
}

func TestRateLimiter_AcquireWaitsForRefill(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxTokens: 1, RefillRate: 100})
	ctx := context.Background()

	if err := rl.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := rl.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > time.Second {
		t.Error("refill at 100/s should take milliseconds")
	}
}

func TestRateLimiter_ContextCancellation(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxTokens: 1, RefillRate: 0.001})
	rl.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Acquire(ctx); err == nil {
		t.Error("Acquire should fail when the context expires")
	}
}

func TestRateLimiter_AvailableCapped(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{MaxTokens: 3, RefillRate: 1000})
	time.Sleep(5 * time.Millisecond)
	if got := rl.Available(); got > 3 {
		t.Errorf("Available() = %v, want at most 3", got)
	}
}

func TestPerMinute(t *testing.T) {
	cfg := PerMinute(60)
	if cfg.RefillRate != 1 || cfg.MaxTokens != 6 {
		t.Errorf("PerMinute(60) = %+v", cfg)
	}
	if cfg := PerMinute(5); cfg.MaxTokens != 1 {
		t.Errorf("burst floor is one token, got %v", cfg.MaxTokens)
	}
}
