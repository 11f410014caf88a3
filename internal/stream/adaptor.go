// Package stream implements the streaming-response interception layer:
// per-chunk middleware hooks, stream_content/stream_reasoning
// accumulation, and a TerminationError's response splicing into the
// live stream. Grounded on original_source/src/engine.py's
// _stream_warpper.
package stream

import (
	"context"

	"go.uber.org/zap"

	"github.com/zonde306/lmproxy/internal/core"
	"github.com/zonde306/lmproxy/internal/middleware"
)

// Adaptor wraps a worker's raw DeltaStream with the middleware chain's
// PerChunk hook.
type Adaptor struct {
	chain  *middleware.Chain
	logger *zap.Logger
}

// New builds an Adaptor bound to a middleware Chain.
func New(chain *middleware.Chain, logger *zap.Logger) *Adaptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adaptor{chain: chain, logger: logger}
}

// Wrap returns a new DeltaStream that: accumulates text/reasoning into
// rc.Metadata["stream_content"/"stream_reasoning"]; runs PerChunk on
// every delta, dropping (not forwarding) chunks a middleware blocks; and
// on a TerminationError, splices the replacement response's own stream
// in as the tail of the output (or, if the replacement isn't itself
// streaming, emits a single error event — original_source/src/engine.py
// treats a non-stream TerminationRequest body during streaming as a
// hard bug, not a recoverable case).
func (a *Adaptor) Wrap(ctx context.Context, rc *core.Context, in core.DeltaStream) core.DeltaStream {
	out := make(chan core.DeltaEvent)

	go func() {
		defer close(out)

		for event := range in {
			if event.Err != nil {
				out <- event
				return
			}

			chunk := event.Delta
			if chunk.Type == core.ModalityText {
				accumulateText(rc, chunk)
				accumulateToolCalls(rc, chunk)
			}

			stop, err := a.chain.PerChunk(ctx, rc, &chunk)
			if err != nil {
				if term, ok := err.(*core.TerminationError); ok {
					a.spliceTermination(ctx, out, term)
					return
				}
				out <- core.DeltaEvent{Err: err}
				return
			}
			if stop {
				continue
			}

			out <- core.DeltaEvent{Delta: chunk}
		}
	}()

	return out
}

func accumulateText(rc *core.Context, chunk core.Delta) {
	content, _ := rc.Metadata["stream_content"].(string)
	reasoning, _ := rc.Metadata["stream_reasoning"].(string)
	if chunk.Content != nil {
		content += *chunk.Content
	}
	if chunk.ReasoningContent != nil {
		reasoning += *chunk.ReasoningContent
	}
	rc.Metadata["stream_content"] = content
	rc.Metadata["stream_reasoning"] = reasoning
}

// accumulateToolCalls merges chunk.ToolCalls into
// rc.Metadata["stream_tool_calls"] by Index: a new index is appended as a
// fresh entry, an existing index has its Function.Arguments concatenated
// (id/type/name are set once and not overwritten by later empty deltas),
// mirroring how OpenAI-style streaming tool_calls are reassembled.
func accumulateToolCalls(rc *core.Context, chunk core.Delta) {
	if len(chunk.ToolCalls) == 0 {
		return
	}

	acc, _ := rc.Metadata["stream_tool_calls"].([]core.ToolCall)
	for _, tc := range chunk.ToolCalls {
		for len(acc) <= tc.Index {
			acc = append(acc, core.ToolCall{Index: len(acc)})
		}
		entry := acc[tc.Index]
		if tc.ID != "" {
			entry.ID = tc.ID
		}
		if tc.Type != "" {
			entry.Type = tc.Type
		}
		if tc.Function.Name != "" {
			entry.Function.Name = tc.Function.Name
		}
		entry.Function.Arguments += tc.Function.Arguments
		acc[tc.Index] = entry
	}
	rc.Metadata["stream_tool_calls"] = acc
}

func (a *Adaptor) spliceTermination(ctx context.Context, out chan<- core.DeltaEvent, term *core.TerminationError) {
	replacement, ok := term.Response.Body.(core.DeltaStream)
	if !ok {
		a.logger.Error("termination response during streaming is not itself a stream")
		out <- core.DeltaEvent{Err: term}
		return
	}
	for event := range replacement {
		out <- event
		if event.Err != nil {
			return
		}
	}
}
