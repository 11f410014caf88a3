// Package worker defines the polymorphic adapter contract over one
// upstream LLM provider: models/generate_*/count_tokens/supports_model.
// Grounded on original_source/src/worker.py's Worker base class and the
// teacher's internal/infrastructure/llm/provider.go Provider interface +
// string-keyed factory registry.
package worker

import (
	"context"

	"github.com/zonde306/lmproxy/internal/core"
)

// Worker speaks one upstream's wire protocol for a given set of
// modalities. Every generate method takes a *core.Context and returns
// either a single core.Delta, a core.DeltaStream for streaming results,
// or an error — one of core's worker-family error kinds to signal "try
// the next worker", or any other error to escalate as fatal.
type Worker interface {
	Name() string

	// Models returns the canonical, client-visible model names (reverse
	// aliased from upstream-native names).
	Models(ctx context.Context) ([]string, error)

	// SupportsModel decides whether this worker should be tried at all
	// for (model, modality).
	SupportsModel(model string, modality core.Modality) bool

	GenerateText(ctx context.Context, rc *core.Context) (any, error)
	GenerateImage(ctx context.Context, rc *core.Context) (any, error)
	GenerateAudio(ctx context.Context, rc *core.Context) (any, error)
	GenerateEmbedding(ctx context.Context, rc *core.Context) (any, error)
	GenerateVideo(ctx context.Context, rc *core.Context) (any, error)
	CountTokens(ctx context.Context, rc *core.Context) (int, error)
}

// Factory constructs a Worker from its raw configuration settings.
// Registered by name at program init (Design Note in spec.md §9: replace
// Python's loader.get_class dynamic import with a string-keyed registry
// populated once, statically).
type Factory func(settings map[string]any) (Worker, error)

var registry = map[string]Factory{}

// Register adds a named worker constructor to the global registry. Called
// from each adapter package's init(), mirroring the write-once startup
// registry pattern used for middlewares and tools.
func Register(class string, factory Factory) {
	registry[class] = factory
}

// Create looks up a registered factory by class name and constructs a
// Worker from settings.
func Create(class string, settings map[string]any) (Worker, error) {
	factory, ok := registry[class]
	if !ok {
		return nil, &core.WorkerError{Reason: "unknown worker class: " + class}
	}
	return factory(settings)
}
