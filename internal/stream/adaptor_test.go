package stream

import (
	"context"
	"testing"

	"github.com/zonde306/lmproxy/internal/core"
	"github.com/zonde306/lmproxy/internal/middleware"
)

func newTestContext() *core.Context {
	return core.NewContext(nil, map[string]any{"model": "gpt-4", "stream": true}, core.ModalityText)
}

func sourceStream(deltas ...core.Delta) core.DeltaStream {
	ch := make(chan core.DeltaEvent, len(deltas))
	for _, d := range deltas {
		ch <- core.DeltaEvent{Delta: d}
	}
	close(ch)
	return ch
}

// TestWrapAccumulatesStreamContent covers spec.md §8 property 5/6: every
// text chunk's content is appended into ctx.metadata.stream_content in
// order.
func TestWrapAccumulatesStreamContent(t *testing.T) {
	chain := middleware.New(nil, nil, nil)
	a := New(chain, nil)
	rc := newTestContext()

	in := sourceStream(
		core.Delta{Type: core.ModalityText, Content: core.StringPtr("he")},
		core.Delta{Type: core.ModalityText, Content: core.StringPtr("llo")},
	)

	var got string
	for event := range a.Wrap(context.Background(), rc, in) {
		if event.Err != nil {
			t.Fatalf("unexpected error: %v", event.Err)
		}
		if event.Delta.Content != nil {
			got += *event.Delta.Content
		}
	}
	if got != "hello" {
		t.Fatalf("expected forwarded content %q, got %q", "hello", got)
	}
	if rc.Metadata["stream_content"] != "hello" {
		t.Fatalf("expected accumulated stream_content %q, got %v", "hello", rc.Metadata["stream_content"])
	}
}

// TestWrapAccumulatesToolCallsByIndex covers spec.md §8 property 6: native
// streamed tool_calls merge by index, with function.arguments
// concatenating across chunks for the same index and a new index
// appending a fresh call.
func TestWrapAccumulatesToolCallsByIndex(t *testing.T) {
	chain := middleware.New(nil, nil, nil)
	a := New(chain, nil)
	rc := newTestContext()

	mkCall := func(index int, id, name, args string) core.ToolCall {
		tc := core.ToolCall{Index: index, ID: id}
		tc.Function.Name = name
		tc.Function.Arguments = args
		return tc
	}

	in := sourceStream(
		core.Delta{Type: core.ModalityText, ToolCalls: []core.ToolCall{mkCall(0, "call_1", "get_weather", `{"loc`)}},
		core.Delta{Type: core.ModalityText, ToolCalls: []core.ToolCall{mkCall(0, "", "", `ation":"sf"}`)}},
		core.Delta{Type: core.ModalityText, ToolCalls: []core.ToolCall{mkCall(1, "call_2", "get_time", `{}`)}},
	)

	for event := range a.Wrap(context.Background(), rc, in) {
		if event.Err != nil {
			t.Fatalf("unexpected error: %v", event.Err)
		}
	}

	acc, ok := rc.Metadata["stream_tool_calls"].([]core.ToolCall)
	if !ok || len(acc) != 2 {
		t.Fatalf("expected 2 accumulated tool calls, got %v", rc.Metadata["stream_tool_calls"])
	}
	if acc[0].ID != "call_1" || acc[0].Function.Name != "get_weather" || acc[0].Function.Arguments != `{"location":"sf"}` {
		t.Fatalf("unexpected merged call 0: %+v", acc[0])
	}
	if acc[1].ID != "call_2" || acc[1].Function.Name != "get_time" || acc[1].Function.Arguments != `{}` {
		t.Fatalf("unexpected merged call 1: %+v", acc[1])
	}
}

// blockingMiddleware blocks every chunk whose content equals "blockme".
type blockingMiddleware struct{ middleware.NoOp }

func (blockingMiddleware) Name() string { return "blocker" }
func (blockingMiddleware) PerChunk(_ context.Context, _ *core.Context, chunk *core.Delta) (bool, error) {
	if chunk.Content != nil && *chunk.Content == "blockme" {
		return true, nil
	}
	return false, nil
}

func TestWrapDropsBlockedChunks(t *testing.T) {
	chain := middleware.New(nil, []middleware.Middleware{blockingMiddleware{}}, []int{100})
	a := New(chain, nil)
	rc := newTestContext()

	in := sourceStream(
		core.Delta{Type: core.ModalityText, Content: core.StringPtr("keep1")},
		core.Delta{Type: core.ModalityText, Content: core.StringPtr("blockme")},
		core.Delta{Type: core.ModalityText, Content: core.StringPtr("keep2")},
	)

	var forwarded []string
	for event := range a.Wrap(context.Background(), rc, in) {
		if event.Delta.Content != nil {
			forwarded = append(forwarded, *event.Delta.Content)
		}
	}
	if len(forwarded) != 2 || forwarded[0] != "keep1" || forwarded[1] != "keep2" {
		t.Fatalf("expected blocked chunk dropped, got %v", forwarded)
	}
}

// terminatingMiddleware raises a TerminationError carrying a replacement
// stream the first time it sees "trigger".
type terminatingMiddleware struct {
	middleware.NoOp
	replacement core.DeltaStream
}

func (terminatingMiddleware) Name() string { return "terminator" }
func (m terminatingMiddleware) PerChunk(_ context.Context, _ *core.Context, chunk *core.Delta) (bool, error) {
	if chunk.Content != nil && *chunk.Content == "trigger" {
		return false, &core.TerminationError{Response: &core.Response{Body: m.replacement}}
	}
	return false, nil
}

func TestWrapSplicesTerminationReplacementStream(t *testing.T) {
	replacement := sourceStream(core.Delta{Type: core.ModalityText, Content: core.StringPtr("replaced")})
	chain := middleware.New(nil, []middleware.Middleware{terminatingMiddleware{replacement: replacement}}, []int{100})
	a := New(chain, nil)
	rc := newTestContext()

	in := sourceStream(
		core.Delta{Type: core.ModalityText, Content: core.StringPtr("before")},
		core.Delta{Type: core.ModalityText, Content: core.StringPtr("trigger")},
		core.Delta{Type: core.ModalityText, Content: core.StringPtr("never reached")},
	)

	var forwarded []string
	for event := range a.Wrap(context.Background(), rc, in) {
		if event.Delta.Content != nil {
			forwarded = append(forwarded, *event.Delta.Content)
		}
	}
	if len(forwarded) != 2 || forwarded[0] != "before" || forwarded[1] != "replaced" {
		t.Fatalf("expected [before replaced], got %v", forwarded)
	}
}
