package extractor

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
)

// runStep executes one browser step under its policy: each attempt gets the
// policy timeout, failed attempts back off before retrying, and the parent
// context cancels the whole budget.
func runStep(ctx context.Context, logger arbor.ILogger, policy common.StepPolicy, name string, fn func(context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		lastErr = fn(stepCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < attempts-1 {
			logger.Debug().
				Str("step", name).
				Int("attempt", attempt+1).
				Err(lastErr).
				Dur("backoff", policy.Backoff).
				Msg("Step failed, retrying after backoff")

			if policy.Backoff > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(policy.Backoff):
				}
			}
		}
	}

	logger.Warn().
		Str("step", name).
		Int("attempts", attempts).
		Err(lastErr).
		Msg("Step retry budget exhausted")

	return lastErr
}
