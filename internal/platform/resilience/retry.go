// Package resilience provides retry-with-backoff and circuit breaker
// primitives shared by the Vault client, the HTTP client, and pipeline
// stages.
package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff retry.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction in [0,1]
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// DelayOverride lets a caller (e.g. the HTTP client honoring Retry-After)
// force the delay before the next attempt to at least a given floor.
type DelayOverride func(attempt int, computed time.Duration) time.Duration

// Retry runs fn until it succeeds, ctx is canceled, or MaxAttempts is
// exhausted. override, if non-nil, is consulted before each sleep.
func Retry(ctx context.Context, cfg RetryConfig, override DelayOverride, fn func(attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := addJitter(delay, cfg.Jitter)
		if override != nil {
			wait = override(attempt, wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = nextDelay(delay, cfg)
	}
	return lastErr
}

func nextDelay(current time.Duration, cfg RetryConfig) time.Duration {
	next := time.Duration(float64(current) * cfg.Multiplier)
	if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	// Uniform in [d*(1-jitter), d*(1+jitter)].
	return d + time.Duration(rand.Float64()*2*delta-delta)
}
