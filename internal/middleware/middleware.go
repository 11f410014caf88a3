// Package middleware implements the request/response/chunk/error
// interception chain described by spec.md §4.5. Grounded on
// original_source/src/middleware.py's Middleware/MiddlewareManager pair,
// with the chain-of-responsibility shape kept from the teacher's
// internal/domain/service/middleware.go NoOpMiddleware-embed idiom (there
// applied to an agent loop; here to the gateway pipeline).
package middleware

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/zonde306/lmproxy/internal/core"
)

// Middleware is one interception point in the chain. Each hook returns
// (stop, err): stop==true ends the chain early without treating it as an
// error (the Python "return False" convention); a non-nil err is either a
// *core.TerminationError (cooperative short-circuit to a replacement
// response) or a genuine failure to escalate.
type Middleware interface {
	Name() string

	PreRequest(ctx context.Context, rc *core.Context) (stop bool, err error)
	PostResponse(ctx context.Context, rc *core.Context) (stop bool, err error)
	PerChunk(ctx context.Context, rc *core.Context, chunk *core.Delta) (stop bool, err error)

	// OnError is consulted by the retry controller after a failed
	// attempt. Returning handled=true ends the retry loop with no further
	// attempts; the attempt's error is still returned to the caller.
	OnError(ctx context.Context, rc *core.Context, err error, attempt int) (handled bool, hookErr error)
}

// NoOp provides pass-through defaults; embed it to only override the
// hooks a concrete middleware actually needs.
type NoOp struct{}

func (NoOp) PreRequest(context.Context, *core.Context) (bool, error)           { return false, nil }
func (NoOp) PostResponse(context.Context, *core.Context) (bool, error)         { return false, nil }
func (NoOp) PerChunk(context.Context, *core.Context, *core.Delta) (bool, error) { return false, nil }
func (NoOp) OnError(context.Context, *core.Context, error, int) (bool, error)  { return false, nil }

// entry pairs a Middleware with its configured priority for the one-time
// construction-time sort.
type entry struct {
	priority int
	mw       Middleware
}

// Chain holds an ordered (priority descending, stable) list of
// Middlewares and fans every hook out across them.
type Chain struct {
	middlewares []Middleware
	logger      *zap.Logger
}

// New builds a Chain from already-constructed middlewares and their
// priorities (highest priority runs first).
func New(logger *zap.Logger, middlewares []Middleware, priorities []int) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries := make([]entry, len(middlewares))
	for i, mw := range middlewares {
		p := 100
		if i < len(priorities) {
			p = priorities[i]
		}
		entries[i] = entry{priority: p, mw: mw}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority > entries[j].priority })

	ordered := make([]Middleware, len(entries))
	for i, e := range entries {
		ordered[i] = e.mw
	}
	return &Chain{middlewares: ordered, logger: logger}
}

// Add appends a middleware with default priority; used by tests and by
// callers that already pre-sort.
func (c *Chain) Add(mw Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

// PreRequest runs every PreRequest hook in chain order. It returns
// continue=false (stop=true, err=nil) the moment a middleware asks to
// stop, and returns immediately on the first error.
func (c *Chain) PreRequest(ctx context.Context, rc *core.Context) (bool, error) {
	for _, mw := range c.middlewares {
		stop, err := mw.PreRequest(ctx, rc)
		if err != nil {
			return false, err
		}
		if stop {
			c.logger.Debug("middleware stopped request chain", zap.String("middleware", mw.Name()))
			return true, nil
		}
	}
	return false, nil
}

// PostResponse runs every PostResponse hook in chain order.
func (c *Chain) PostResponse(ctx context.Context, rc *core.Context) (bool, error) {
	for _, mw := range c.middlewares {
		stop, err := mw.PostResponse(ctx, rc)
		if err != nil {
			return false, err
		}
		if stop {
			c.logger.Debug("middleware stopped response chain", zap.String("middleware", mw.Name()))
			return true, nil
		}
	}
	return false, nil
}

// PerChunk runs every PerChunk hook for one streamed chunk.
func (c *Chain) PerChunk(ctx context.Context, rc *core.Context, chunk *core.Delta) (bool, error) {
	for _, mw := range c.middlewares {
		stop, err := mw.PerChunk(ctx, rc, chunk)
		if err != nil {
			return false, err
		}
		if stop {
			return true, nil
		}
	}
	return false, nil
}

// OnError runs every OnError hook; the first middleware to claim the
// error as handled stops the scan.
func (c *Chain) OnError(ctx context.Context, rc *core.Context, err error, attempt int) (bool, error) {
	for _, mw := range c.middlewares {
		handled, hookErr := mw.OnError(ctx, rc, err, attempt)
		if hookErr != nil {
			return false, hookErr
		}
		if handled {
			return true, nil
		}
	}
	return false, nil
}
