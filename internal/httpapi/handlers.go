package httpapi

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zonde306/lmproxy/internal/core"
	"github.com/zonde306/lmproxy/internal/engine"
	apperrors "github.com/zonde306/lmproxy/pkg/errors"
)

// ChatCompletionResponse mirrors OpenAI's non-streaming chat completion
// response shape.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   any          `json:"usage,omitempty"`
}

// ChatChoice is one non-streaming completion choice.
type ChatChoice struct {
	Index        int              `json:"index"`
	Message      ChatChoiceDelta  `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// ChatChoiceDelta carries the assistant-role message fields shared by both
// the non-streaming message and the streaming delta shapes.
type ChatChoiceDelta struct {
	Role             string          `json:"role,omitempty"`
	Content          string          `json:"content,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ToolCalls        []core.ToolCall `json:"tool_calls,omitempty"`
}

// ChatStreamChunk mirrors spec.md §6's Delta → SSE framing envelope.
type ChatStreamChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
	Usage   any                `json:"usage,omitempty"`
}

// ChatStreamChoice is one streamed choice delta.
type ChatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        ChatChoiceDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

// OpenAIModel is one entry of the /v1/models list response.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse mirrors OpenAI's /v1/models response.
type ModelsResponse struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// EmbeddingResponse mirrors OpenAI's /v1/embeddings response.
type EmbeddingResponse struct {
	Object string            `json:"object"`
	Data   []EmbeddingObject `json:"data"`
	Model  string            `json:"model"`
	Usage  any               `json:"usage,omitempty"`
}

// EmbeddingObject is one embedding vector entry.
type EmbeddingObject struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// ImageGenerationResponse mirrors OpenAI's /v1/images/generations response.
type ImageGenerationResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

// ImageData is one generated image, base64-encoded.
type ImageData struct {
	B64JSON string `json:"b64_json"`
}

type handler struct {
	engine *engine.Engine
	logger *zap.Logger
}

func newHandler(eng *engine.Engine, logger *zap.Logger) *handler {
	return &handler{engine: eng, logger: logger}
}

// ChatCompletions handles POST /v1/chat/completions, dispatching to a
// streaming or non-streaming response depending on body.stream.
func (h *handler) ChatCompletions(c *gin.Context) {
	body, err := bindBody(c)
	if err != nil {
		return
	}
	if msgs, ok := body["messages"].([]any); !ok || len(msgs) == 0 {
		writeInvalidRequest(c, "messages array must not be empty")
		return
	}

	model, _ := body["model"].(string)
	headers := requestHeaders(c)

	resp, err := h.engine.GenerateText(c.Request.Context(), body, headers)
	if err != nil {
		h.logger.Error("generate text failed", zap.Error(err))
		writeAppError(c, apperrors.NewInternalErrorWithCause("chat completion failed", err))
		return
	}

	if stream, ok := resp.Body.(core.DeltaStream); ok {
		h.writeChatStream(c, model, resp, stream)
		return
	}

	h.writeChatNonStream(c, model, resp)
}

func (h *handler) writeChatNonStream(c *gin.Context, model string, resp *core.Response) {
	delta, ok := resp.Body.(core.Delta)
	if !ok {
		c.Data(statusOrDefault(resp.StatusCode), "application/json", mustMarshalBytes(resp.Body))
		return
	}

	content := ""
	if delta.Content != nil {
		content = *delta.Content
	}
	reasoning := ""
	if delta.ReasoningContent != nil {
		reasoning = *delta.ReasoningContent
	}

	c.JSON(statusOrDefault(resp.StatusCode), ChatCompletionResponse{
		ID:      fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []ChatChoice{{
			Index: 0,
			Message: ChatChoiceDelta{
				Role:             "assistant",
				Content:          content,
				ReasoningContent: reasoning,
				ToolCalls:        delta.ToolCalls,
			},
			FinishReason: "stop",
		}},
		Usage: resp.Metadata["usage"],
	})
}

func (h *handler) writeChatStream(c *gin.Context, model string, resp *core.Response, stream core.DeltaStream) {
	setSSEHeaders(c)

	completionID := fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()

	writeSSEChunk(c.Writer, ChatStreamChunk{
		ID:      completionID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []ChatStreamChoice{{Index: 0, Delta: ChatChoiceDelta{Role: "assistant"}}},
	})
	c.Writer.Flush()

	for event := range stream {
		if event.Err != nil {
			h.logger.Error("stream error", zap.Error(event.Err))
			break
		}
		if event.Delta.IsEmpty() {
			continue // heartbeat, nothing to forward
		}
		content := ""
		if event.Delta.Content != nil {
			content = *event.Delta.Content
		}
		reasoning := ""
		if event.Delta.ReasoningContent != nil {
			reasoning = *event.Delta.ReasoningContent
		}
		writeSSEChunk(c.Writer, ChatStreamChunk{
			ID:      completionID,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []ChatStreamChoice{{
				Index: 0,
				Delta: ChatChoiceDelta{
					Content:          content,
					ReasoningContent: reasoning,
					ToolCalls:        event.Delta.ToolCalls,
				},
			}},
		})
		c.Writer.Flush()
	}

	finishReason := "stop"
	writeSSEChunk(c.Writer, ChatStreamChunk{
		ID:      completionID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []ChatStreamChoice{{Index: 0, Delta: ChatChoiceDelta{}, FinishReason: &finishReason}},
		Usage:   resp.Metadata["usage"],
	})
	writeSSEDone(c.Writer)
	c.Writer.Flush()
}

// Embeddings handles POST /v1/embeddings.
func (h *handler) Embeddings(c *gin.Context) {
	body, err := bindBody(c)
	if err != nil {
		return
	}
	model, _ := body["model"].(string)
	headers := requestHeaders(c)

	resp, err := h.engine.GenerateEmbedding(c.Request.Context(), body, headers)
	if err != nil {
		h.logger.Error("generate embedding failed", zap.Error(err))
		writeAppError(c, apperrors.NewInternalErrorWithCause("embedding generation failed", err))
		return
	}

	delta, ok := resp.Body.(core.Delta)
	if !ok {
		c.Data(statusOrDefault(resp.StatusCode), "application/json", mustMarshalBytes(resp.Body))
		return
	}

	c.JSON(statusOrDefault(resp.StatusCode), EmbeddingResponse{
		Object: "list",
		Data: []EmbeddingObject{{
			Object:    "embedding",
			Embedding: delta.Embedding,
			Index:     0,
		}},
		Model: model,
		Usage: resp.Metadata["usage"],
	})
}

// ImagesGenerations handles POST /v1/images/generations.
func (h *handler) ImagesGenerations(c *gin.Context) {
	body, err := bindBody(c)
	if err != nil {
		return
	}
	headers := requestHeaders(c)

	resp, err := h.engine.GenerateImage(c.Request.Context(), body, headers)
	if err != nil {
		h.logger.Error("generate image failed", zap.Error(err))
		writeAppError(c, apperrors.NewInternalErrorWithCause("image generation failed", err))
		return
	}

	delta, ok := resp.Body.(core.Delta)
	if !ok {
		c.Data(statusOrDefault(resp.StatusCode), "application/json", mustMarshalBytes(resp.Body))
		return
	}

	c.JSON(statusOrDefault(resp.StatusCode), ImageGenerationResponse{
		Created: time.Now().Unix(),
		Data:    []ImageData{{B64JSON: base64.StdEncoding.EncodeToString(delta.BinaryContent)}},
	})
}

// ListModels handles GET /v1/models.
func (h *handler) ListModels(c *gin.Context) {
	names, err := h.engine.Models(c.Request.Context())
	if err != nil {
		h.logger.Error("list models failed", zap.Error(err))
		writeAppError(c, apperrors.NewInternalErrorWithCause("listing models failed", err))
		return
	}

	models := make([]OpenAIModel, 0, len(names))
	now := time.Now().Unix()
	for _, name := range names {
		models = append(models, OpenAIModel{ID: name, Object: "model", Created: now, OwnedBy: "lmproxy"})
	}
	c.JSON(http.StatusOK, ModelsResponse{Object: "list", Data: models})
}

func statusOrDefault(code int) int {
	if code == 0 {
		return http.StatusOK
	}
	return code
}

// writeAppError renders an *errors.AppError as the OpenAI-style error
// envelope, choosing the HTTP status from its ErrorCode.
func writeAppError(c *gin.Context, appErr *apperrors.AppError) {
	c.JSON(statusForCode(appErr.Code), gin.H{
		"error": gin.H{
			"message": appErr.Message,
			"type":    string(appErr.Code),
		},
	})
}

func statusForCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.CodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.CodeForbidden:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeAlreadyExists:
		return http.StatusConflict
	case apperrors.CodeServiceUnavail:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeInvalidRequest(c *gin.Context, message string) {
	writeAppError(c, apperrors.NewInvalidInputError(message))
}

func bindBody(c *gin.Context) (map[string]any, error) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		writeInvalidRequest(c, err.Error())
		return nil, err
	}
	return body, nil
}

func requestHeaders(c *gin.Context) map[string]string {
	out := make(map[string]string, len(c.Request.Header))
	for k, v := range c.Request.Header {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
