// Package openai is the reference OpenAI-compatible Worker adapter named
// by spec.md §4.3. Grounded on original_source/src/workers/openai.py
// (tri-valued streaming dispatch, SSE framing discipline) and the
// teacher's internal/infrastructure/llm/openai/{provider.go,sse.go}
// (Go-idiomatic scanning/timeouts).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zonde306/lmproxy/internal/core"
	"github.com/zonde306/lmproxy/internal/httpclient"
	"github.com/zonde306/lmproxy/internal/proxy"
	"github.com/zonde306/lmproxy/internal/resource"
	"github.com/zonde306/lmproxy/internal/worker"
)

func init() {
	worker.Register("openai", func(settings map[string]any) (worker.Worker, error) {
		return New(settings, sharedProxyFactory)
	})
}

// sharedProxyFactory is set by cmd/gateway wiring via SetProxyFactory
// before workers are constructed from configuration.
var sharedProxyFactory *proxy.Factory

// SetProxyFactory wires the process-wide proxy factory used by workers
// registered via the string-keyed Factory registry (which has no other
// way to receive dependencies beyond raw settings).
func SetProxyFactory(f *proxy.Factory) { sharedProxyFactory = f }

// Adapter is the reference OpenAI-compatible Worker.
type Adapter struct {
	name    string
	logger  *zap.Logger

	modelsURL      string
	completionsURL string
	headers        map[string]string
	aliases        map[string]string
	reverseAliases map[string]string
	filters        []*regexp.Regexp

	streaming       *bool // nil = absent (tri-valued per spec.md §4.3)
	fakeStreamEvery time.Duration

	keys         *resource.Pool
	keyTimeout   time.Duration
	proxyPool    resource.Resourcer
	proxyTimeout time.Duration

	mu              sync.RWMutex
	availableModels []string
	initialModels   map[string]bool

	settings map[string]any
}

// New builds an Adapter from settings (spec.md §6's worker.workers entry
// shape) and a proxy factory used to resolve the configured proxy pool.
func New(settings map[string]any, proxies *proxy.Factory) (*Adapter, error) {
	name, _ := settings["name"].(string)
	if name == "" {
		name = "OpenAiWorker"
	}

	a := &Adapter{
		name:           name,
		logger:         zap.NewNop(),
		modelsURL:      stringSetting(settings, "models_url", "https://api.openai.com/v1/models"),
		completionsURL: stringSetting(settings, "completions_url", "https://api.openai.com/v1/chat/completions"),
		headers:        stringMapSetting(settings, "headers"),
		aliases:        stringMapSetting(settings, "aliases"),
		settings:       settings,
	}

	a.reverseAliases = map[string]string{}
	for alias, upstream := range a.aliases {
		a.reverseAliases[upstream] = alias
	}

	a.initialModels = map[string]bool{}
	a.availableModels = stringSliceSetting(settings, "models")
	for _, m := range a.availableModels {
		a.initialModels[m] = true
	}

	for _, pattern := range stringSliceSetting(settings, "filters") {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("openai worker %q: bad filter %q: %w", name, pattern, err)
		}
		a.filters = append(a.filters, re)
	}

	if v, ok := settings["streaming"].(bool); ok {
		a.streaming = &v
	}
	a.fakeStreamEvery = durationSetting(settings, "fake_streaming_interval", time.Second)

	apiKeys := stringSliceSetting(settings, "api_keys")
	if len(apiKeys) == 0 {
		if single, ok := settings["api_key"].(string); ok && single != "" {
			apiKeys = []string{single}
		}
	}
	keyMgr, _ := settings["key_manager"].(map[string]any)
	a.keys = resource.New(apiKeys, resource.Options{
		CooldownTime: durationSetting(keyMgr, "cooldown_time", 0),
	})
	a.keyTimeout = durationSetting(keyMgr, "default_timeout", 30*time.Second)

	proxyName, _ := settings["proxy"].(string)
	if proxies != nil {
		a.proxyPool = proxies.Create(proxyName)
		a.proxyTimeout = proxies.Timeout(proxyName)
	} else {
		a.proxyPool = resource.NewNull()
	}

	return a, nil
}

func (a *Adapter) Name() string { return a.name }

// Models GETs modelsURL with a pool-acquired API key, filters the
// returned ids by the configured regexps, and reverse-aliases them so
// clients always see the alias.
func (a *Adapter) Models(ctx context.Context) ([]string, error) {
	idx, apiKey, err := a.keys.Acquire(ctx, a.keyTimeout)
	if err != nil {
		return nil, &core.WorkerOverloadError{Reason: err.Error()}
	}
	defer a.keys.Release(idx, false)

	scope, err := httpclient.Acquire(ctx, a.proxyPool, a.proxyTimeout, a.headers)
	if err != nil {
		return nil, &core.WorkerOverloadError{Reason: err.Error()}
	}
	defer scope.Release(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.modelsURL, nil)
	if err != nil {
		return nil, &core.WorkerError{Reason: "build models request", Err: err}
	}
	for k, v := range scope.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := scope.Client.Do(req)
	if err != nil {
		return nil, &core.WorkerError{Reason: "models request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &core.WorkerNoAvailableError{Reason: fmt.Sprintf("models: status %d", resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &core.WorkerOverloadError{Reason: "rate limited"}
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &core.WorkerError{Reason: "decode models response", Err: err}
	}

	var out []string
	for _, m := range parsed.Data {
		if !a.passesFilters(m.ID) {
			continue
		}
		out = append(out, a.reverseAlias(m.ID))
	}

	a.mu.Lock()
	a.availableModels = out
	a.mu.Unlock()

	return out, nil
}

func (a *Adapter) passesFilters(model string) bool {
	if len(a.filters) == 0 {
		return true
	}
	for _, re := range a.filters {
		if re.MatchString(model) {
			return true
		}
	}
	return false
}

func (a *Adapter) reverseAlias(upstreamModel string) string {
	if alias, ok := a.reverseAliases[upstreamModel]; ok {
		return alias
	}
	return upstreamModel
}

// SupportsModel reports whether model is in this worker's initial
// configured list or its most recently fetched available-models list.
func (a *Adapter) SupportsModel(model string, modality core.Modality) bool {
	if modality != core.ModalityText {
		return false
	}
	if a.initialModels[model] {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, m := range a.availableModels {
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

// CountTokens has no dedicated endpoint on the reference adapter; it
// falls back to a rough estimate, matching the teacher's
// sse.go len(runes)*3/2+50 heuristic used when usage is absent upstream.
func (a *Adapter) CountTokens(_ context.Context, rc *core.Context) (int, error) {
	var buf strings.Builder
	if messages, ok := rc.Body["messages"].([]any); ok {
		for _, m := range messages {
			if mm, ok := m.(map[string]any); ok {
				if content, ok := mm["content"].(string); ok {
					buf.WriteString(content)
				}
			}
		}
	}
	return len([]rune(buf.String()))*3/2 + 50, nil
}

// acquireKeyAndProxy acquires one API key slot and one scoped egress
// client for a single upstream call. Both must be released by the caller.
func (a *Adapter) acquireKeyAndProxy(ctx context.Context) (keyIdx int, apiKey string, scope *httpclient.Scope, err error) {
	keyIdx, apiKey, err = a.keys.Acquire(ctx, a.keyTimeout)
	if err != nil {
		return -1, "", nil, &core.WorkerOverloadError{Reason: err.Error()}
	}
	scope, err = httpclient.Acquire(ctx, a.proxyPool, a.proxyTimeout, a.headers)
	if err != nil {
		a.keys.Release(keyIdx, false)
		return -1, "", nil, &core.WorkerOverloadError{Reason: err.Error()}
	}
	return keyIdx, apiKey, scope, nil
}

// preparePayload sets Authorization and body.stream per
// original_source/src/workers/openai.py's _prepare_payload.
func (a *Adapter) preparePayload(req *http.Request, apiKey string, streaming bool, body map[string]any) []byte {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	body["stream"] = streaming
	encoded, _ := json.Marshal(body)
	return encoded
}

func bodyReader(b []byte) io.Reader { return bytes.NewReader(b) }
