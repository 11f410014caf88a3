package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zonde306/lmproxy/internal/core"
)

func newTestAdapter(t *testing.T, server *httptest.Server, settings map[string]any) *Adapter {
	t.Helper()
	if settings == nil {
		settings = map[string]any{}
	}
	settings["completions_url"] = server.URL + "/chat/completions"
	settings["models_url"] = server.URL + "/models"
	settings["api_keys"] = []any{"test-key"}

	a, err := New(settings, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestGenerateTextNonStreamingDirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"content":"hello"}}]}`)
	}))
	defer server.Close()

	a := newTestAdapter(t, server, nil)
	rc := core.NewContext(nil, map[string]any{"model": "gpt-4", "stream": false}, core.ModalityText)

	result, err := a.GenerateText(context.Background(), rc)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	delta, ok := result.(core.Delta)
	if !ok {
		t.Fatalf("expected core.Delta, got %T", result)
	}
	if delta.Content == nil || *delta.Content != "hello" {
		t.Fatalf("unexpected content: %+v", delta)
	}
}

func TestGenerateTextStreamingDirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"he\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"llo\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	a := newTestAdapter(t, server, nil)
	rc := core.NewContext(nil, map[string]any{"model": "gpt-4", "stream": true}, core.ModalityText)

	result, err := a.GenerateText(context.Background(), rc)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	stream, ok := result.(core.DeltaStream)
	if !ok {
		t.Fatalf("expected core.DeltaStream, got %T", result)
	}

	var got string
	for event := range stream {
		if event.Err != nil {
			t.Fatalf("unexpected stream error: %v", event.Err)
		}
		if event.Delta.Content != nil {
			got += *event.Delta.Content
		}
	}
	if got != "hello" {
		t.Fatalf("expected accumulated %q, got %q", "hello", got)
	}
}

func TestGenerateTextForceStreamingToSingle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"a\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"b\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	forceTrue := true
	a := newTestAdapter(t, server, map[string]any{})
	a.streaming = &forceTrue
	rc := core.NewContext(nil, map[string]any{"model": "gpt-4", "stream": false}, core.ModalityText)

	result, err := a.GenerateText(context.Background(), rc)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	delta, ok := result.(core.Delta)
	if !ok {
		t.Fatalf("expected core.Delta (accumulated), got %T", result)
	}
	if delta.Content == nil || *delta.Content != "ab" {
		t.Fatalf("expected accumulated content %q, got %+v", "ab", delta)
	}
}

func TestGenerateTextForceNonStreamingToHeartbeatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"content":"done"}}]}`)
	}))
	defer server.Close()

	forceFalse := false
	a := newTestAdapter(t, server, map[string]any{"fake_streaming_interval": 0.02})
	a.streaming = &forceFalse
	rc := core.NewContext(nil, map[string]any{"model": "gpt-4", "stream": true}, core.ModalityText)

	result, err := a.GenerateText(context.Background(), rc)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	stream, ok := result.(core.DeltaStream)
	if !ok {
		t.Fatalf("expected core.DeltaStream, got %T", result)
	}

	heartbeats := 0
	var final *string
	for event := range stream {
		if event.Err != nil {
			t.Fatalf("unexpected error: %v", event.Err)
		}
		if event.Delta.IsEmpty() {
			heartbeats++
			continue
		}
		final = event.Delta.Content
	}
	if heartbeats < 1 {
		t.Fatalf("expected at least 1 heartbeat delta, got %d", heartbeats)
	}
	if final == nil || *final != "done" {
		t.Fatalf("expected final content %q, got %v", "done", final)
	}
}

func TestModelsFiltersAndAliases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"MBZUAI-IFM/K2-Think"},{"id":"gpt-4"},{"id":"unrelated-model"}]}`)
	}))
	defer server.Close()

	a := newTestAdapter(t, server, map[string]any{
		"filters": []any{"K2-Think", "^gpt"},
		"aliases": map[string]any{"K2-Think": "MBZUAI-IFM/K2-Think"},
	})

	models, err := a.Models(context.Background())
	if err != nil {
		t.Fatalf("Models: %v", err)
	}
	found := map[string]bool{}
	for _, m := range models {
		found[m] = true
	}
	if !found["K2-Think"] {
		t.Fatalf("expected reverse-aliased K2-Think in models, got %v", models)
	}
	if !found["gpt-4"] {
		t.Fatalf("expected gpt-4 in models, got %v", models)
	}
	if found["unrelated-model"] {
		t.Fatalf("expected unrelated-model to be filtered out, got %v", models)
	}
}

func TestCountTokensEstimate(t *testing.T) {
	a := &Adapter{}
	rc := core.NewContext(nil, map[string]any{
		"messages": []any{
			map[string]any{"role": "user", "content": "hello world"},
		},
	}, core.ModalityText)

	n, err := a.CountTokens(context.Background(), rc)
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n <= 0 {
		t.Fatalf("expected positive estimate, got %d", n)
	}
}

