package middleware

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/zonde306/lmproxy/internal/core"
	"github.com/zonde306/lmproxy/internal/tools"
)

func init() {
	Register("tools", func(settings map[string]any) (Middleware, error) {
		return NewTools(settings), nil
	})
}

var toolCallsTagRe = regexp.MustCompile(`(?s)<tool_calls>(.*?)</tool_calls>`)

// Regenerate re-invokes the engine's text-generation pipeline for rc
// (with its messages already extended by tool results), producing a
// fresh *core.Response. Wired in by cmd/gateway once the Engine exists,
// mirroring the original's self.engine.process_generate callback that
// every concrete middleware receives through its constructor.
type Regenerate func(ctx context.Context, rc *core.Context) (*core.Response, error)

// Tools detects tool_calls in a worker's text response (native
// message.tool_calls, or an inline "<tool_calls>[...]</tool_calls>" tag
// some models emit instead), executes them concurrently, appends their
// results as "tool" messages, and triggers one more generation round.
// Grounded on original_source/src/middlewares/tools.py.
type Tools struct {
	NoOp
	regenerate Regenerate
}

// NewTools builds a Tools middleware. SetRegenerate must be called
// before PostResponse/PerChunk are exercised against a real request.
func NewTools(map[string]any) *Tools {
	return &Tools{}
}

// SetRegenerate wires the engine callback used to restart generation
// after tool results are appended.
func (m *Tools) SetRegenerate(fn Regenerate) {
	m.regenerate = fn
}

func (m *Tools) Name() string { return "Tools" }

// PreRequest advertises every registered tool definition, de-duplicated
// against whatever the caller already supplied.
func (m *Tools) PreRequest(_ context.Context, rc *core.Context) (bool, error) {
	if rc.Modality != core.ModalityText {
		return false, nil
	}

	existing := map[string]bool{}
	if raw, ok := rc.Body["tools"].([]any); ok {
		for _, t := range raw {
			if def, ok := t.(map[string]any); ok {
				if fn, ok := def["function"].(map[string]any); ok {
					if name, ok := fn["name"].(string); ok {
						existing[name] = true
					}
				}
			}
		}
	}

	merged, _ := rc.Body["tools"].([]any)
	for _, def := range tools.Definitions() {
		fn, _ := def["function"].(map[string]any)
		name, _ := fn["name"].(string)
		if existing[name] {
			continue
		}
		merged = append(merged, def)
	}
	rc.Body["tools"] = merged
	return false, nil
}

// PostResponse runs after a non-streaming text response: if the response
// carries tool_calls, it executes them and restarts generation, stopping
// the remaining PostResponse chain with the regenerated result.
func (m *Tools) PostResponse(ctx context.Context, rc *core.Context) (bool, error) {
	if rc.Modality != core.ModalityText || rc.Stream() {
		return false, nil
	}
	delta, ok := rc.Response.(core.Delta)
	if !ok || delta.Type != core.ModalityText {
		return false, nil
	}

	calls := extractCalls(delta, "")
	if len(calls) == 0 {
		return false, nil
	}
	if !tools.AllRegistered(calls) {
		return false, nil
	}

	if err := appendToolResults(ctx, rc, calls); err != nil {
		return false, err
	}
	if m.regenerate == nil {
		return false, nil
	}

	resp, err := m.regenerate(ctx, rc)
	if err != nil {
		return false, err
	}
	rc.Response = resp.Body
	rc.StatusCode = resp.StatusCode
	rc.ResponseHeaders = resp.Headers
	return true, nil
}

// PerChunk watches the accumulated stream_content for a complete
// "<tool_calls>...</tool_calls>" tag. On a match it executes the calls
// and raises a TerminationError carrying the regenerated response, which
// the stream adaptor splices in as the new tail of the stream.
func (m *Tools) PerChunk(ctx context.Context, rc *core.Context, chunk *core.Delta) (bool, error) {
	if rc.Modality != core.ModalityText || !rc.Stream() || chunk.Type != core.ModalityText {
		return false, nil
	}

	accumulated, _ := rc.Metadata["stream_content"].(string)
	calls := extractCallsFromText(accumulated)
	if len(calls) == 0 {
		if acc, _ := rc.Metadata["stream_tool_calls"].([]core.ToolCall); len(acc) > 0 {
			if calls = accumulatedNativeToolCalls(rc); len(calls) == 0 {
				return true, nil // native tool_calls still accumulating: withhold the chunk
			}
		}
	}
	if len(calls) == 0 {
		if strings.Contains(accumulated, "<tool_calls>") {
			return true, nil // tag opened but not yet closed: withhold the chunk
		}
		return false, nil
	}
	if !tools.AllRegistered(calls) {
		return false, nil
	}

	if err := appendToolResults(ctx, rc, calls); err != nil {
		return false, err
	}
	if m.regenerate == nil {
		return false, nil
	}

	resp, err := m.regenerate(ctx, rc)
	if err != nil {
		return false, err
	}
	return false, &core.TerminationError{Response: resp}
}

func extractCalls(delta core.Delta, fallbackContent string) []tools.Call {
	if len(delta.ToolCalls) > 0 {
		calls := make([]tools.Call, len(delta.ToolCalls))
		for i, tc := range delta.ToolCalls {
			calls[i] = tools.Call{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		}
		return calls
	}
	content := fallbackContent
	if content == "" && delta.Content != nil {
		content = *delta.Content
	}
	return extractCallsFromText(content)
}

// accumulatedNativeToolCalls reads the index-merged tool_calls built by
// internal/stream's accumulator and returns them as completed tools.Call
// values, but only once every entry's name has arrived and its arguments
// form valid JSON — otherwise a call is still mid-stream and the chunk
// must be withheld rather than executed against partial arguments.
func accumulatedNativeToolCalls(rc *core.Context) []tools.Call {
	acc, _ := rc.Metadata["stream_tool_calls"].([]core.ToolCall)
	if len(acc) == 0 {
		return nil
	}

	calls := make([]tools.Call, 0, len(acc))
	for _, tc := range acc {
		if tc.Function.Name == "" || !json.Valid([]byte(tc.Function.Arguments)) {
			return nil
		}
		calls = append(calls, tools.Call{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return calls
}

func extractCallsFromText(content string) []tools.Call {
	match := toolCallsTagRe.FindStringSubmatch(content)
	if match == nil {
		return nil
	}
	var raw []struct {
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
	if err := json.Unmarshal([]byte(match[1]), &raw); err != nil {
		return nil
	}
	calls := make([]tools.Call, len(raw))
	for i, r := range raw {
		calls[i] = tools.Call{ID: r.ID, Name: r.Function.Name, Arguments: r.Function.Arguments}
	}
	return calls
}

func appendToolResults(ctx context.Context, rc *core.Context, calls []tools.Call) error {
	results, err := tools.Execute(ctx, calls)
	if err != nil {
		return err
	}

	messages, _ := rc.Body["messages"].([]any)
	for _, r := range results {
		messages = append(messages, r.OpenAI())
	}
	rc.Body["messages"] = messages
	return nil
}
