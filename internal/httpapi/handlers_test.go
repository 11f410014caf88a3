package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/zonde306/lmproxy/internal/core"
	"github.com/zonde306/lmproxy/internal/engine"
	"github.com/zonde306/lmproxy/internal/middleware"
	"github.com/zonde306/lmproxy/internal/retry"
	"github.com/zonde306/lmproxy/internal/worker"
	"github.com/zonde306/lmproxy/internal/workermanager"
	apperrors "github.com/zonde306/lmproxy/pkg/errors"
)

type stubWorker struct{}

func (stubWorker) Name() string                                          { return "stub" }
func (stubWorker) Models(context.Context) ([]string, error)               { return []string{"gpt-4"}, nil }
func (stubWorker) SupportsModel(string, core.Modality) bool               { return true }
func (stubWorker) GenerateText(context.Context, *core.Context) (any, error) {
	return core.Delta{Type: core.ModalityText, Content: core.StringPtr("hi there")}, nil
}
func (stubWorker) GenerateImage(context.Context, *core.Context) (any, error) {
	return core.Delta{Type: core.ModalityImage, BinaryContent: []byte("fake-png"), MimeType: "image/png"}, nil
}
func (stubWorker) GenerateAudio(context.Context, *core.Context) (any, error) {
	return nil, &core.WorkerUnsupportedError{}
}
func (stubWorker) GenerateEmbedding(context.Context, *core.Context) (any, error) {
	return core.Delta{Type: core.ModalityEmbedding, Embedding: []float64{0.1, 0.2, 0.3}}, nil
}
func (stubWorker) GenerateVideo(context.Context, *core.Context) (any, error) {
	return nil, &core.WorkerUnsupportedError{}
}
func (stubWorker) CountTokens(context.Context, *core.Context) (int, error) { return 3, nil }

func testServer(t *testing.T) *Server {
	t.Helper()
	chain := middleware.New(zap.NewNop(), nil, nil)
	manager := workermanager.New(zap.NewNop(), []worker.Worker{stubWorker{}}, []int{100})
	retries := retry.New(chain, retry.Options{MaxAttempts: 3, WaitTime: time.Millisecond})
	eng := engine.New(chain, retries, manager, zap.NewNop())
	return NewServer(Config{Host: "127.0.0.1", Port: 0, Mode: "debug"}, eng, zap.NewNop())
}

func TestChatCompletionsNonStreaming(t *testing.T) {
	s := testServer(t)

	body, _ := json.Marshal(map[string]any{
		"model":    "gpt-4",
		"messages": []map[string]any{{"role": "user", "content": "hello"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hi there" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestChatCompletionsRejectsMissingMessages(t *testing.T) {
	s := testServer(t)

	body, _ := json.Marshal(map[string]any{"model": "gpt-4"})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Type != string(apperrors.CodeInvalidInput) {
		t.Fatalf("expected error type %q, got %q", apperrors.CodeInvalidInput, envelope.Error.Type)
	}
}

func TestListModels(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp ModelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "gpt-4" {
		t.Fatalf("unexpected models response: %+v", resp)
	}
}

func TestEmbeddings(t *testing.T) {
	s := testServer(t)

	body, _ := json.Marshal(map[string]any{"model": "gpt-4", "input": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp EmbeddingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Data) != 1 || len(resp.Data[0].Embedding) != 3 {
		t.Fatalf("unexpected embedding response: %+v", resp)
	}
}

func TestHealth(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
