package utils

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      zerolog.Logger

	// RetryIf, when set, limits retries to errors it accepts; any other
	// error is returned immediately. Nil retries every error.
	RetryIf func(error) bool
}

// Do executes fn with exponential back-off retry logic.
func (r *RetryConfig) Do(operationName string, fn func() error) error {
	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if r.RetryIf != nil && !r.RetryIf(lastErr) {
			return lastErr
		}

		if attempt < r.MaxAttempts {
			r.Logger.Warn().
				Str("operation", operationName).
				Int("attempt", attempt).
				Int("max_attempts", r.MaxAttempts).
				Dur("delay", delay).
				Err(lastErr).
				Msg("retrying")
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, r.MaxAttempts, lastErr)
}
