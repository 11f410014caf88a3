// Package retry implements the bounded-attempt loop that wraps each
// worker call: on failure it consults the middleware chain's OnError
// hook (which may veto the error or, via a TerminationError, abort
// outright), then waits a fixed backoff before the next attempt.
// Grounded on original_source/src/retry.py's AttemptManager/Retrying,
// deliberately kept as fixed backoff (no jitter/exponential growth) per
// spec.md §4.6's explicit wait_time semantics, even though the teacher's
// own llm_caller.go instead backs off exponentially.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zonde306/lmproxy/internal/core"
	"github.com/zonde306/lmproxy/internal/middleware"
)

// Options configures a Controller.
type Options struct {
	MaxAttempts int           // default 3
	WaitTime    time.Duration // fixed delay between attempts
	Logger      *zap.Logger
}

// Controller runs fn up to MaxAttempts times, giving the middleware
// chain a chance to stop further retries after each failure via OnError.
type Controller struct {
	maxAttempts int
	waitTime    time.Duration
	chain       *middleware.Chain
	logger      *zap.Logger
}

// New builds a Controller bound to a middleware Chain.
func New(chain *middleware.Chain, opts Options) *Controller {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{maxAttempts: maxAttempts, waitTime: opts.WaitTime, chain: chain, logger: logger}
}

// Do runs fn, retrying on error per the configured policy. fn returning
// (result, nil) ends the loop successfully, with result forwarded
// verbatim (nil is a legitimate "no terminal result yet, try again"
// signal mirroring original_source/src/engine.py's `if response: return
// response` attempt-loop exit).
func (c *Controller) Do(ctx context.Context, rc *core.Context, fn func(ctx context.Context, attempt int) (any, error)) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			if result != nil {
				return result, nil
			}
			continue
		}

		lastErr = err
		c.logger.Warn("attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		handled, hookErr := c.chain.OnError(ctx, rc, err, attempt)
		if hookErr != nil {
			return nil, hookErr
		}
		if handled {
			return nil, err
		}

		if attempt >= c.maxAttempts {
			return nil, err
		}

		if c.waitTime > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.waitTime):
			}
		}
	}

	return nil, lastErr
}
