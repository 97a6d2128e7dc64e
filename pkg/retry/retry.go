package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config controls exponential backoff with jitter:
// delay = min(InitialDelay * Multiplier^attempt, MaxDelay) +/- jitter.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// Multiplier grows the delay after every attempt.
	Multiplier float64

	// JitterFactor adds up to +/- JitterFactor*delay of randomness so
	// concurrent retriers do not synchronize.
	JitterFactor float64

	// RetryIf decides whether an error is retryable. Nil retries all errors.
	RetryIf func(error) bool
}

// DefaultConfig suits transient RPC failures: 4 attempts at 100ms, 200ms,
// 400ms (+ jitter).
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (c *Config) validate() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		c.JitterFactor = 0.1
	}
}

func (c *Config) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	if c.JitterFactor > 0 {
		d += d * c.JitterFactor * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, the attempt budget is exhausted, or ctx is
// cancelled. Returns the last error on failure.
func Do(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	cfg.validate()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(cfg.delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
