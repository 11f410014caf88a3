package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zonde306/lmproxy/internal/core"
)

func TestGenerateTextParsesCandidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"hi there"}]}}],"modelVersion":"gemini-1.5"}`)
	}))
	defer server.Close()

	a := New(map[string]any{"base_url": server.URL, "api_key": "k", "models": []any{"gemini-1.5-pro"}})
	rc := core.NewContext(nil, map[string]any{
		"model": "gemini-1.5-pro",
		"messages": []any{
			map[string]any{"role": "user", "content": "hello"},
		},
	}, core.ModalityText)

	result, err := a.GenerateText(context.Background(), rc)
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	delta, ok := result.(core.Delta)
	if !ok {
		t.Fatalf("expected core.Delta, got %T", result)
	}
	if delta.Content == nil || *delta.Content != "hi there" {
		t.Fatalf("unexpected content: %+v", delta)
	}
}

func TestSupportsModel(t *testing.T) {
	a := New(map[string]any{"models": []any{"gemini-1.5-pro"}})
	if !a.SupportsModel("gemini-1.5-pro", core.ModalityText) {
		t.Fatal("expected configured model to be supported")
	}
	if a.SupportsModel("other-model", core.ModalityText) {
		t.Fatal("expected unconfigured model to be unsupported")
	}
	if a.SupportsModel("gemini-1.5-pro", core.ModalityImage) {
		t.Fatal("expected non-text modality to be unsupported")
	}
}
