// Package engine ties the whole request pipeline together: middleware
// pre/post hooks, the retry controller, the worker manager, and the
// stream adaptor, behind one per-modality entrypoint. Grounded on
// original_source/src/engine.py's Engine class.
package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zonde306/lmproxy/internal/core"
	"github.com/zonde306/lmproxy/internal/middleware"
	"github.com/zonde306/lmproxy/internal/retry"
	"github.com/zonde306/lmproxy/internal/stream"
	"github.com/zonde306/lmproxy/internal/workermanager"
)

// Generator is one of WorkerManager's per-modality generate methods.
type Generator func(ctx context.Context, rc *core.Context) (any, error)

// Engine is the pipeline entrypoint used by the HTTP layer.
type Engine struct {
	middleware *middleware.Chain
	retries    *retry.Controller
	workers    *workermanager.Manager
	streams    *stream.Adaptor
	logger     *zap.Logger
}

// New builds an Engine from its already-constructed dependencies.
func New(chain *middleware.Chain, retries *retry.Controller, workers *workermanager.Manager, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		middleware: chain,
		retries:    retries,
		workers:    workers,
		streams:    stream.New(chain, logger),
		logger:     logger,
	}
}

// Models returns the aggregated, cached model list across every worker.
func (e *Engine) Models(ctx context.Context) ([]string, error) {
	return e.workers.Models(ctx)
}

// GenerateText runs the full pipeline for a text completion request.
func (e *Engine) GenerateText(ctx context.Context, body map[string]any, headers map[string]string) (*core.Response, error) {
	rc := core.NewContext(headers, body, core.ModalityText)
	return e.processGenerate(ctx, rc, e.workers.GenerateText)
}

func (e *Engine) GenerateImage(ctx context.Context, body map[string]any, headers map[string]string) (*core.Response, error) {
	rc := core.NewContext(headers, body, core.ModalityImage)
	return e.processGenerate(ctx, rc, e.workers.GenerateImage)
}

func (e *Engine) GenerateAudio(ctx context.Context, body map[string]any, headers map[string]string) (*core.Response, error) {
	rc := core.NewContext(headers, body, core.ModalityAudio)
	return e.processGenerate(ctx, rc, e.workers.GenerateAudio)
}

func (e *Engine) GenerateEmbedding(ctx context.Context, body map[string]any, headers map[string]string) (*core.Response, error) {
	rc := core.NewContext(headers, body, core.ModalityEmbedding)
	return e.processGenerate(ctx, rc, e.workers.GenerateEmbedding)
}

func (e *Engine) GenerateVideo(ctx context.Context, body map[string]any, headers map[string]string) (*core.Response, error) {
	rc := core.NewContext(headers, body, core.ModalityVideo)
	return e.processGenerate(ctx, rc, e.workers.GenerateVideo)
}

// CountTokens bypasses the middleware/retry pipeline entirely, per
// spec.md's explicit count_tokens fast path.
func (e *Engine) CountTokens(ctx context.Context, body map[string]any, headers map[string]string) (*core.Response, error) {
	rc := core.NewContext(headers, body, core.ModalityCountTokens)
	n, err := e.workers.CountTokens(ctx, rc)
	if err != nil {
		return nil, err
	}
	return &core.Response{StatusCode: 200, Body: map[string]any{"token_count": n}}, nil
}

// RegenerateText is handed to the Tools middleware as its Regenerate
// callback: it re-runs the retry-wrapped worker call (but not
// PreRequest, whose side effects — e.g. Authorization — must not repeat)
// against rc's already tool-result-extended message list.
func (e *Engine) RegenerateText(ctx context.Context, rc *core.Context) (*core.Response, error) {
	return e.runAttempts(ctx, rc, e.workers.GenerateText)
}

// processGenerate is the Go shape of original_source/src/engine.py's
// process_generate: allocate a task id, run PreRequest (honoring a
// middleware's request to stop the chain or terminate outright), run
// the retry-wrapped generator, wrap streaming results, then run
// PostResponse.
func (e *Engine) processGenerate(ctx context.Context, rc *core.Context, generate Generator) (*core.Response, error) {
	rc.Metadata["task_id"] = uuid.New().String()

	stop, preErr := e.middleware.PreRequest(ctx, rc)
	if preErr != nil {
		if term, ok := preErr.(*core.TerminationError); ok {
			return term.Response, nil
		}
		return nil, preErr
	}
	if stop {
		e.logger.Info("request cancelled by middleware", zap.String("task_id", rc.Metadata["task_id"].(string)))
		return rc.ToResponse(), nil
	}

	response, err := e.runAttempts(ctx, rc, generate)
	if err != nil {
		if term, ok := err.(*core.TerminationError); ok {
			return term.Response, nil
		}
		return nil, err
	}
	return response, nil
}

// runAttempts wraps one generator call in the retry controller, applies
// the stream adaptor when the result streams, and runs PostResponse.
func (e *Engine) runAttempts(ctx context.Context, rc *core.Context, generate Generator) (*core.Response, error) {
	result, err := e.retries.Do(ctx, rc, func(ctx context.Context, attempt int) (any, error) {
		e.logger.Info("attempt", zap.Int("attempt", attempt))
		return generate(ctx, rc)
	})
	if err != nil {
		return nil, err
	}

	if err := e.toResponse(ctx, rc, result); err != nil {
		return nil, err
	}

	stop, postErr := e.middleware.PostResponse(ctx, rc)
	if postErr != nil {
		return nil, postErr
	}
	if stop {
		e.logger.Info("response cancelled by middleware")
	}

	return rc.ToResponse(), nil
}

// toResponse installs a generator's result (a core.Delta, a
// core.DeltaStream, or a plain value for non-text modalities) into
// rc.Response, wrapping streams through the stream adaptor first.
func (e *Engine) toResponse(ctx context.Context, rc *core.Context, result any) error {
	rc.StatusCode = 200
	if stream, ok := result.(core.DeltaStream); ok {
		rc.Response = e.streams.Wrap(ctx, rc, stream)
		return nil
	}
	rc.Response = result
	return nil
}
