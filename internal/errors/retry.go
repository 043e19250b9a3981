package errors

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"time"
)

// RetryConfig is an exponential backoff policy. MaxRetries counts the
// attempts after the first one.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter draws each pause from the upper half of the nominal delay.
	Jitter bool
	// ShouldRetry filters errors; nil retries all of them.
	ShouldRetry func(error) bool
}

// DefaultRetryConfig waits 1s, 2s and 4s between four attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2,
	}
}

// Retry calls fn until it succeeds, the policy gives up or ctx ends.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions that return a value. A
// cancelled ctx wins over the last error; an error ShouldRetry rejects is
// returned unwrapped.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	v, err := fn()
	if err == nil {
		return v, nil
	}
	for pause := range cfg.pauses() {
		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return zero, err
		}
		if err := sleep(ctx, pause); err != nil {
			return zero, err
		}
		if v, err = fn(); err == nil {
			return v, nil
		}
	}
	if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
		return zero, err
	}
	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, err)
}

// pauses yields the wait before each retry.
func (cfg RetryConfig) pauses() iter.Seq[time.Duration] {
	return func(yield func(time.Duration) bool) {
		delay := cfg.InitialDelay
		for range cfg.MaxRetries {
			if !yield(cfg.wait(delay)) {
				return
			}
			delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
		}
	}
}

func (cfg RetryConfig) wait(delay time.Duration) time.Duration {
	if !cfg.Jitter || delay <= 0 {
		return delay
	}
	half := delay / 2
	return half + rand.N(half+1)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
