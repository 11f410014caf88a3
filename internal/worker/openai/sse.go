package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"
)

// idleReadTimeout bounds how long we wait for the next byte of an SSE
// stream before giving up, independent of the caller's overall context
// deadline. Grounded on the teacher's
// internal/infrastructure/llm/openai/sse.go timedReader (there: 60s).
const idleReadTimeout = 60 * time.Second

var errIdleTimeout = errors.New("openai: sse idle read timeout")

// timedReader races each Read against idleReadTimeout, returning
// errIdleTimeout if no data arrives in time. Mirrors the teacher's
// timedReader goroutine+select+time.After race.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		done <- result{n, err}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

// parseSSEStream reads body as an OpenAI-style SSE stream: data: prefix
// stripped, [DONE] terminates, lines starting with ':' are comments and
// ignored. Each decoded JSON chunk is passed to onChunk. Grounded on
// original_source/src/workers/openai.py's streaming() buffer/split loop
// and the teacher's sse.go scanning discipline.
func parseSSEStream(ctx context.Context, body io.Reader, onChunk func(apiTextResponse) error) error {
	reader := &timedReader{r: body, timeout: idleReadTimeout}
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			return nil
		}

		var chunk apiTextResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, errIdleTimeout) {
			return errIdleTimeout
		}
		return err
	}
	return nil
}

// parseResponseChunk returns content/reasoning_content/tool_calls from one
// decoded chunk, preferring delta.* (streaming) and falling
// back to message.* (non-streaming).
func parseResponseChunk(chunk apiTextResponse) (content, reasoning *string, calls []toolCall) {
	if len(chunk.Choices) == 0 {
		return nil, nil, nil
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content != nil || choice.Delta.ReasoningContent != nil || len(choice.Delta.ToolCalls) > 0 {
		return choice.Delta.Content, choice.Delta.ReasoningContent, choice.Delta.ToolCalls
	}
	return choice.Message.Content, choice.Message.ReasoningContent, choice.Message.ToolCalls
}
