package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zonde306/lmproxy/internal/core"
	"github.com/zonde306/lmproxy/internal/middleware"
)

func newTestContext() *core.Context {
	return core.NewContext(nil, map[string]any{"model": "gpt-4"}, core.ModalityText)
}

// TestDoRetriesThenSucceeds covers spec.md §8 scenario E3: the first
// attempt fails, the second succeeds, and the result is returned without
// exhausting max_attempts.
func TestDoRetriesThenSucceeds(t *testing.T) {
	chain := middleware.New(nil, nil, nil)
	c := New(chain, Options{MaxAttempts: 3, WaitTime: time.Millisecond})

	calls := 0
	result, err := c.Do(context.Background(), newTestContext(), func(ctx context.Context, attempt int) (any, error) {
		calls++
		if attempt == 1 {
			return nil, &core.WorkerError{Reason: "transient"}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected ok, got %v", result)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}

// TestDoExhaustsMaxAttempts ensures the final error is surfaced once
// every attempt has been used.
func TestDoExhaustsMaxAttempts(t *testing.T) {
	chain := middleware.New(nil, nil, nil)
	c := New(chain, Options{MaxAttempts: 2, WaitTime: 0})

	calls := 0
	_, err := c.Do(context.Background(), newTestContext(), func(ctx context.Context, attempt int) (any, error) {
		calls++
		return nil, &core.WorkerError{Reason: "always fails"}
	})
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}

// stubMiddleware lets OnError be scripted per test.
type stubMiddleware struct {
	middleware.NoOp
	onError func(ctx context.Context, rc *core.Context, err error, attempt int) (bool, error)
}

func (s *stubMiddleware) Name() string { return "stub" }
func (s *stubMiddleware) OnError(ctx context.Context, rc *core.Context, err error, attempt int) (bool, error) {
	return s.onError(ctx, rc, err, attempt)
}

// TestDoStopsWhenMiddlewareHandlesError verifies a middleware claiming
// the error as handled ends the loop without retrying further.
func TestDoStopsWhenMiddlewareHandlesError(t *testing.T) {
	handler := &stubMiddleware{onError: func(context.Context, *core.Context, error, int) (bool, error) {
		return true, nil
	}}
	chain := middleware.New(nil, []middleware.Middleware{handler}, []int{100})
	c := New(chain, Options{MaxAttempts: 5, WaitTime: 0})

	calls := 0
	_, err := c.Do(context.Background(), newTestContext(), func(ctx context.Context, attempt int) (any, error) {
		calls++
		return nil, errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected the original error to be returned")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt once the middleware claims the error, got %d", calls)
	}
}
