// Package retry runs operations with capped exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"leadwire/internal/constants"
)

// Config controls the backoff schedule.
type Config struct {
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"`
	Jitter       bool          `json:"jitter" yaml:"jitter"`
}

// DefaultConfig returns the schedule used for broker dials and similar
// short outages.
func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultMaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// Backoff implements exponential backoff with optional jitter
type Backoff struct {
	config Config
	// OnRetry is called before each wait with the failed attempt number,
	// its error and the upcoming delay.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// NewBackoff fills zero fields from DefaultConfig.
func NewBackoff(config Config) *Backoff {
	def := DefaultConfig()
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	return &Backoff{config: config}
}

// Do runs operation until it succeeds, isRetryable rejects its error, the
// attempts are used up or ctx is done. A nil isRetryable retries every
// error. The last operation error is returned.
func (b *Backoff) Do(ctx context.Context, operation func(attempt int) error, isRetryable func(error) bool) error {
	var lastErr error
	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = operation(attempt)
		if lastErr == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == b.config.MaxAttempts {
			break
		}

		delay := b.Delay(attempt)
		if b.OnRetry != nil {
			b.OnRetry(attempt, lastErr, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

// Delay returns the wait after the given failed attempt.
func (b *Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.config.InitialDelay)
	for i := 1; i < attempt && delay < float64(b.config.MaxDelay); i++ {
		delay *= b.config.Multiplier
	}
	if delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}

	// +-25%, never below the initial delay nor above the cap
	if b.config.Jitter {
		delay += (rand.Float64() - 0.5) * 0.5 * delay
		delay = max(delay, float64(b.config.InitialDelay))
		delay = min(delay, float64(b.config.MaxDelay))
	}
	return time.Duration(delay)
}
