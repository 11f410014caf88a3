// Package gemini is a supplementary Worker adapter for Google AI Studio /
// Gemini, one of the upstreams named in spec.md §1's purpose section but
// not detailed there as a reference implementation (only the
// OpenAI-compatible adapter is). Grounded on the teacher's
// internal/infrastructure/llm/gemini/provider.go (request/response shape,
// `?key=` query-string auth, model-prefix stripping), adapted to the
// Worker contract instead of the teacher's Provider/LLMClient interface.
package gemini

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/zonde306/lmproxy/internal/core"
	"github.com/zonde306/lmproxy/internal/worker"
)

func init() {
	worker.Register("gemini", func(settings map[string]any) (worker.Worker, error) {
		return New(settings), nil
	})
}

// Adapter speaks the native Gemini generateContent REST API.
type Adapter struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
}

// New builds an Adapter from settings.
func New(settings map[string]any) *Adapter {
	name, _ := settings["name"].(string)
	if name == "" {
		name = "GeminiWorker"
	}
	baseURL, _ := settings["base_url"].(string)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	apiKey, _ := settings["api_key"].(string)

	var models []string
	if raw, ok := settings["models"].([]any); ok {
		for _, m := range raw {
			if s, ok := m.(string); ok {
				models = append(models, s)
			}
		}
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Adapter{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		models:  models,
		client:  &http.Client{Transport: transport},
	}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Models(context.Context) ([]string, error) {
	return a.models, nil
}

func (a *Adapter) SupportsModel(model string, modality core.Modality) bool {
	if modality != core.ModalityText {
		return false
	}
	if len(a.models) == 0 {
		return true
	}
	for _, m := range a.models {
		if m == model {
			return true
		}
	}
	return false
}

func (a *Adapter) GenerateImage(context.Context, *core.Context) (any, error) {
	return nil, &core.WorkerUnsupportedError{Model: "image"}
}
func (a *Adapter) GenerateAudio(context.Context, *core.Context) (any, error) {
	return nil, &core.WorkerUnsupportedError{Model: "audio"}
}
func (a *Adapter) GenerateEmbedding(context.Context, *core.Context) (any, error) {
	return nil, &core.WorkerUnsupportedError{Model: "embedding"}
}
func (a *Adapter) GenerateVideo(context.Context, *core.Context) (any, error) {
	return nil, &core.WorkerUnsupportedError{Model: "video"}
}
func (a *Adapter) CountTokens(context.Context, *core.Context) (int, error) {
	return -1, &core.WorkerUnsupportedError{Model: "count_tokens"}
}

func (a *Adapter) stripPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

// GenerateText issues a non-streaming generateContent call and returns a
// single Delta. Unlike the OpenAI adapter, no tri-valued streaming
// dispatch is implemented here — this is a supplementary adapter, not the
// spec's reference one, and always serves content in one shot.
func (a *Adapter) GenerateText(ctx context.Context, rc *core.Context) (any, error) {
	model := a.stripPrefix(rc.Model())
	apiReq := buildRequest(rc)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &core.WorkerError{Reason: "marshal request", Err: err}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", a.baseURL, model, a.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &core.WorkerError{Reason: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &core.WorkerError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.WorkerError{Reason: "read response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &core.WorkerNoAvailableError{Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &core.WorkerOverloadError{Reason: "rate limited"}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &core.WorkerNoAvailableError{Reason: "model not found"}
	case resp.StatusCode != http.StatusOK:
		return nil, &core.WorkerError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody))}
	}

	return parseResponse(respBody)
}
