package extractor

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fleetsync/internal/common"
	"github.com/ternarybob/fleetsync/internal/interfaces"
	"github.com/ternarybob/fleetsync/internal/models"
)

// withChain tries each locator strategy in rank order, moving to the next
// only after the current one exhausts its retry budget. All strategies
// failing yields ElementNotFoundError so the caller can distinguish a UI
// drift from a transport problem.
func withChain(ctx context.Context, logger arbor.ILogger, policy common.StepPolicy, dataset models.DatasetType, step string, locs []models.Locator, fn func(context.Context, models.Locator) error) error {
	if len(locs) == 0 {
		return &ElementNotFoundError{Dataset: dataset, Step: step}
	}

	var lastErr error
	for i, loc := range locs {
		loc := loc
		lastErr = runStep(ctx, logger, policy, step, func(stepCtx context.Context) error {
			return fn(stepCtx, loc)
		})
		if lastErr == nil {
			if i > 0 {
				logger.Info().
					Str("step", step).
					Str("locator", loc.Value).
					Int("rank", i+1).
					Msg("Fallback locator strategy succeeded")
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return &ElementNotFoundError{Dataset: dataset, Step: step, Tried: locs}
}

// firstPresent returns the first locator in the chain that resolves on the
// current page, without waiting for it to appear
func firstPresent(ctx context.Context, page interfaces.Page, locs []models.Locator) (models.Locator, bool) {
	for _, loc := range locs {
		if ok, err := page.Exists(ctx, loc); err == nil && ok {
			return loc, true
		}
	}
	return models.Locator{}, false
}
