package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/zonde306/lmproxy/internal/core"
)

// GenerateText dispatches by the tri-valued streaming setting table from
// spec.md §4.3 / original_source/src/workers/openai.py's generate_text.
func (a *Adapter) GenerateText(ctx context.Context, rc *core.Context) (any, error) {
	clientWantsStream := rc.Stream()

	switch {
	case a.streaming == nil:
		if clientWantsStream {
			return a.streaming_(ctx, rc)
		}
		return a.noStreaming(ctx, rc)

	case *a.streaming && !clientWantsStream:
		stream, err := a.streaming_(ctx, rc)
		if err != nil {
			return nil, err
		}
		return a.toNoStreaming(stream)

	case *a.streaming && clientWantsStream:
		return a.streaming_(ctx, rc)

	case !*a.streaming && clientWantsStream:
		return a.toStreaming(ctx, rc), nil

	default: // !*a.streaming && !clientWantsStream
		return a.noStreaming(ctx, rc)
	}
}

// streaming_ issues a streaming completion call and returns a
// core.DeltaStream. Named with a trailing underscore to avoid colliding
// with the `streaming` *bool field.
func (a *Adapter) streaming_(ctx context.Context, rc *core.Context) (core.DeltaStream, error) {
	keyIdx, apiKey, scope, err := a.acquireKeyAndProxy(ctx)
	if err != nil {
		return nil, err
	}

	body := rc.Payload(a.settings)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.completionsURL, nil)
	if err != nil {
		a.keys.Release(keyIdx, false)
		scope.Release(nil)
		return nil, &core.WorkerError{Reason: "build request", Err: err}
	}
	encoded := a.preparePayload(req, apiKey, true, body)
	req.Body = nopCloser(bodyReader(encoded))
	req.ContentLength = int64(len(encoded))
	for k, v := range scope.Headers {
		req.Header.Set(k, v)
	}

	resp, err := scope.Client.Do(req)
	if err != nil {
		a.keys.Release(keyIdx, false)
		scope.Release(err)
		return nil, &core.WorkerError{Reason: "streaming request failed", Err: err}
	}
	if classified := classifyStatus(resp.StatusCode); classified != nil {
		resp.Body.Close()
		a.keys.Release(keyIdx, false)
		scope.Release(nil)
		return nil, classified
	}

	out := make(chan core.DeltaEvent)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		defer a.keys.Release(keyIdx, false)
		defer scope.Release(nil)

		err := parseSSEStream(ctx, resp.Body, func(chunk apiTextResponse) error {
			content, reasoning, calls := parseResponseChunk(chunk)
			if content == nil && reasoning == nil && len(calls) == 0 {
				return nil
			}
			delta := core.Delta{Type: core.ModalityText, Content: content, ReasoningContent: reasoning}
			delta.ToolCalls = convertToolCalls(calls)
			select {
			case out <- core.DeltaEvent{Delta: delta}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			select {
			case out <- core.DeltaEvent{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

// noStreaming issues a non-streaming completion call and returns a single
// Delta.
func (a *Adapter) noStreaming(ctx context.Context, rc *core.Context) (core.Delta, error) {
	keyIdx, apiKey, scope, err := a.acquireKeyAndProxy(ctx)
	if err != nil {
		return core.Delta{}, err
	}
	defer a.keys.Release(keyIdx, false)
	defer scope.Release(nil)

	body := rc.Payload(a.settings)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.completionsURL, nil)
	if err != nil {
		return core.Delta{}, &core.WorkerError{Reason: "build request", Err: err}
	}
	encoded := a.preparePayload(req, apiKey, false, body)
	req.Body = nopCloser(bodyReader(encoded))
	req.ContentLength = int64(len(encoded))
	for k, v := range scope.Headers {
		req.Header.Set(k, v)
	}

	resp, err := scope.Client.Do(req)
	if err != nil {
		scope.Release(err)
		return core.Delta{}, &core.WorkerError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if classified := classifyStatus(resp.StatusCode); classified != nil {
		return core.Delta{}, classified
	}

	var parsed apiTextResponse
	if err := decodeJSON(resp.Body, &parsed); err != nil {
		return core.Delta{}, &core.WorkerError{Reason: "decode response", Err: err}
	}

	content, reasoning, calls := parseResponseChunk(parsed)
	if rc.Metadata != nil && parsed.Usage != nil {
		rc.Metadata["usage"] = parsed.Usage
	}
	return core.Delta{
		Type:             core.ModalityText,
		Content:          content,
		ReasoningContent: reasoning,
		ToolCalls:        convertToolCalls(calls),
	}, nil
}

// toStreaming wraps a non-streaming single-shot call in a background
// goroutine, emitting an all-nil heartbeat Delta every fakeStreamEvery
// while it runs, then the final Delta. Grounded on
// original_source/src/workers/openai.py's to_streaming (asyncio.wait with
// timeout racing a single task).
func (a *Adapter) toStreaming(ctx context.Context, rc *core.Context) core.DeltaStream {
	out := make(chan core.DeltaEvent)

	type finalResult struct {
		delta core.Delta
		err   error
	}
	done := make(chan finalResult, 1)
	go func() {
		d, err := a.noStreaming(ctx, rc)
		done <- finalResult{d, err}
	}()

	go func() {
		defer close(out)
		ticker := time.NewTicker(a.fakeStreamEvery)
		defer ticker.Stop()

		for {
			select {
			case res := <-done:
				if res.err != nil {
					out <- core.DeltaEvent{Err: res.err}
					return
				}
				out <- core.DeltaEvent{Delta: res.delta}
				return
			case <-ticker.C:
				out <- core.DeltaEvent{Delta: core.Delta{Type: core.ModalityText}}
			case <-ctx.Done():
				out <- core.DeltaEvent{Err: ctx.Err()}
				return
			}
		}
	}()

	return out
}

// toNoStreaming accumulates a streaming response into a single Delta:
// content/reasoning_content concatenated, tool_calls merged by index.
// Empty accumulated strings become nil. Grounded on
// original_source/src/workers/openai.py's to_no_streaming.
func (a *Adapter) toNoStreaming(stream core.DeltaStream) (core.Delta, error) {
	var content, reasoning string
	hasContent, hasReasoning := false, false
	toolCallsByIndex := map[int]*core.ToolCall{}
	var order []int

	for event := range stream {
		if event.Err != nil {
			return core.Delta{}, event.Err
		}
		d := event.Delta
		if d.Content != nil {
			content += *d.Content
			hasContent = true
		}
		if d.ReasoningContent != nil {
			reasoning += *d.ReasoningContent
			hasReasoning = true
		}
		for _, tc := range d.ToolCalls {
			existing, ok := toolCallsByIndex[tc.Index]
			if !ok {
				cp := tc
				toolCallsByIndex[tc.Index] = &cp
				order = append(order, tc.Index)
				continue
			}
			existing.Function.Arguments += tc.Function.Arguments
		}
	}

	result := core.Delta{Type: core.ModalityText}
	if hasContent && content != "" {
		result.Content = &content
	}
	if hasReasoning && reasoning != "" {
		result.ReasoningContent = &reasoning
	}
	for _, idx := range order {
		result.ToolCalls = append(result.ToolCalls, *toolCallsByIndex[idx])
	}
	return result, nil
}

func convertToolCalls(calls []toolCall) []core.ToolCall {
	out := make([]core.ToolCall, 0, len(calls))
	for _, c := range calls {
		tc := core.ToolCall{Index: c.Index, ID: c.ID, Type: c.Type}
		tc.Function.Name = c.Function.Name
		tc.Function.Arguments = c.Function.Arguments
		out = append(out, tc)
	}
	return out
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &core.WorkerNoAvailableError{Reason: fmt.Sprintf("status %d", status)}
	case status == http.StatusTooManyRequests:
		return &core.WorkerOverloadError{Reason: "rate limited"}
	case status == http.StatusNotFound:
		return &core.WorkerNoAvailableError{Reason: "model not found"}
	case status >= 500:
		return &core.WorkerError{Reason: fmt.Sprintf("upstream status %d", status)}
	case status >= 400:
		return &core.WorkerNoAvailableError{Reason: fmt.Sprintf("status %d", status)}
	default:
		return nil
	}
}
