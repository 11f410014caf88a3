// Package workermanager implements the ordered multi-worker fallback
// described by spec.md §4.4: per-modality model-support routing, a
// peek-first-chunk pattern for streaming fallback, and a TTL-cached
// aggregated model list. Grounded on
// original_source/src/worker.py's WorkerManager and the teacher's
// internal/infrastructure/llm/router.go ordered-fallback loop (there,
// circuit-breaker gated; here, spec.md §4.4's warning/escalate
// classification instead).
package workermanager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zonde306/lmproxy/internal/core"
	"github.com/zonde306/lmproxy/internal/worker"
)

const modelsCacheTTL = 300 * time.Second

// entry pairs a Worker with its configured priority for the one-time sort
// at construction.
type entry struct {
	priority int
	worker   worker.Worker
}

// Manager holds an ordered (priority descending, stable) list of Workers.
type Manager struct {
	workers []worker.Worker
	logger  *zap.Logger

	mu          sync.Mutex
	cachedAt    time.Time
	cachedModel []string
}

// New builds a Manager from already-constructed workers and their
// priorities (highest first after sorting).
func New(logger *zap.Logger, workers []worker.Worker, priorities []int) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries := make([]entry, len(workers))
	for i, w := range workers {
		p := 100
		if i < len(priorities) {
			p = priorities[i]
		}
		entries[i] = entry{priority: p, worker: w}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority > entries[j].priority
	})

	ordered := make([]worker.Worker, len(entries))
	for i, e := range entries {
		ordered[i] = e.worker
	}
	return &Manager{workers: ordered, logger: logger}
}

// Models concurrently refreshes and returns the sorted (case-insensitive)
// union of every worker's model list, cached for modelsCacheTTL.
func (m *Manager) Models(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	if time.Since(m.cachedAt) < modelsCacheTTL && m.cachedModel != nil {
		cached := m.cachedModel
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	perWorker := make([][]string, len(m.workers))
	for i, w := range m.workers {
		i, w := i, w
		g.Go(func() error {
			models, err := w.Models(gctx)
			if err != nil {
				m.logger.Warn("worker models() failed", zap.String("worker", w.Name()), zap.Error(err))
				return nil
			}
			perWorker[i] = models
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := map[string]string{} // lowercase -> original casing seen first
	for _, models := range perWorker {
		for _, mdl := range models {
			key := lower(mdl)
			if _, ok := seen[key]; !ok {
				seen[key] = mdl
			}
		}
	}
	union := make([]string, 0, len(seen))
	for _, v := range seen {
		union = append(union, v)
	}
	sort.Slice(union, func(i, j int) bool { return lower(union[i]) < lower(union[j]) })

	m.mu.Lock()
	m.cachedModel = union
	m.cachedAt = time.Now()
	m.mu.Unlock()

	return union, nil
}

func lower(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// GenerateText tries each worker in priority order for rc.Model() under
// the text modality. For a streaming result, it peeks the first chunk
// inside the per-worker error guard so a worker that fails before
// producing any output is skipped like a synchronous failure, while
// errors after the first chunk propagate to the client mid-stream.
func (m *Manager) GenerateText(ctx context.Context, rc *core.Context) (any, error) {
	for _, w := range m.workers {
		if !w.SupportsModel(rc.Model(), core.ModalityText) {
			continue
		}

		result, err := w.GenerateText(ctx, rc)
		if err != nil {
			if m.isAdvanceWarning(err, w) {
				continue
			}
			return nil, err
		}

		if delta, ok := result.(core.Delta); ok {
			rc.Metadata["worker"] = w.Name()
			return delta, nil
		}

		stream, ok := result.(core.DeltaStream)
		if !ok {
			return nil, &core.WorkerError{Reason: fmt.Sprintf("worker %s returned unexpected type %T", w.Name(), result)}
		}

		first, hasFirst := <-stream
		if hasFirst && first.Err != nil && m.isAdvanceWarning(first.Err, w) {
			continue
		}

		rc.Metadata["worker"] = w.Name()
		return prependStream(first, hasFirst, stream), nil
	}

	return nil, &core.WorkerError{Reason: fmt.Sprintf("no available workers for %s", rc.Model())}
}

// prependStream rebuilds an outbound stream with the already-peeked first
// event prepended, as required by spec.md §4.4/§9's stream-peek helper.
func prependStream(first core.DeltaEvent, hasFirst bool, rest core.DeltaStream) core.DeltaStream {
	out := make(chan core.DeltaEvent)
	go func() {
		defer close(out)
		if hasFirst {
			out <- first
			if first.Err != nil {
				return
			}
		}
		for event := range rest {
			out <- event
		}
	}()
	return out
}

// isAdvanceWarning reports whether err should be treated as a warning
// that advances the WorkerManager's loop to the next worker (per spec.md
// §4.4: WorkerUnsupported/WorkerOverload/WorkerError family), logging it
// at warn level as the original's error.worker_handler does.
func (m *Manager) isAdvanceWarning(err error, w worker.Worker) bool {
	if core.IsWorkerFamily(err) {
		m.logger.Warn("worker declined request, trying next", zap.String("worker", w.Name()), zap.Error(err))
		return true
	}
	return false
}

func (m *Manager) GenerateImage(ctx context.Context, rc *core.Context) (any, error) {
	return m.generateSimple(ctx, rc, func(w worker.Worker) (any, error) { return w.GenerateImage(ctx, rc) })
}

func (m *Manager) GenerateAudio(ctx context.Context, rc *core.Context) (any, error) {
	return m.generateSimple(ctx, rc, func(w worker.Worker) (any, error) { return w.GenerateAudio(ctx, rc) })
}

func (m *Manager) GenerateEmbedding(ctx context.Context, rc *core.Context) (any, error) {
	return m.generateSimple(ctx, rc, func(w worker.Worker) (any, error) { return w.GenerateEmbedding(ctx, rc) })
}

func (m *Manager) GenerateVideo(ctx context.Context, rc *core.Context) (any, error) {
	return m.generateSimple(ctx, rc, func(w worker.Worker) (any, error) { return w.GenerateVideo(ctx, rc) })
}

func (m *Manager) generateSimple(_ context.Context, rc *core.Context, call func(worker.Worker) (any, error)) (any, error) {
	for _, w := range m.workers {
		if !w.SupportsModel(rc.Model(), rc.Modality) {
			continue
		}
		result, err := call(w)
		if err != nil {
			if m.isAdvanceWarning(err, w) {
				continue
			}
			return nil, err
		}
		rc.Metadata["worker"] = w.Name()
		return result, nil
	}
	return nil, &core.WorkerError{Reason: "no available workers"}
}

// CountTokens is best-effort: it returns -1 (not an error) if no worker
// supports the request, per original_source/src/worker.py's
// WorkerManager.count_tokens.
func (m *Manager) CountTokens(ctx context.Context, rc *core.Context) (int, error) {
	for _, w := range m.workers {
		if !w.SupportsModel(rc.Model(), core.ModalityText) {
			continue
		}
		n, err := w.CountTokens(ctx, rc)
		if err != nil {
			if m.isAdvanceWarning(err, w) {
				continue
			}
			return -1, err
		}
		return n, nil
	}
	return -1, nil
}
