// Package httpapi is the OpenAI-compatible HTTP front end: gin routes,
// request/response wire shapes, and the SSE writer, calling into
// internal/engine for every modality. Adapted from the teacher's
// internal/interfaces/http/server.go (gin.Recovery + zap request logging)
// and handlers/openai_handler.go (wire structs, SSE framing).
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zonde306/lmproxy/internal/engine"
	apperrors "github.com/zonde306/lmproxy/pkg/errors"
)

// Config controls the HTTP listener's bind address and gin mode.
type Config struct {
	Host string
	Port int
	Mode string // "production" selects gin release mode; any other value selects debug
}

// Server wraps an http.Server serving the gateway's routes.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer builds a Server bound to cfg, routing every request into eng.
func NewServer(cfg Config, eng *engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(recoveryMiddleware(logger))
	router.Use(ginLogger(logger))

	h := newHandler(eng, logger)
	setupRoutes(router, h)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving in the background; errors other than a graceful
// shutdown are logged, not returned, matching the teacher's fire-and-log
// ListenAndServe goroutine.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(router *gin.Engine, h *handler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", h.ChatCompletions)
		v1.POST("/embeddings", h.Embeddings)
		v1.POST("/images/generations", h.ImagesGenerations)
		v1.GET("/models", h.ListModels)
	}
}

// recoveryMiddleware is gin.Recovery's panic-catching behavior with the
// response body formatted as an AppError envelope instead of gin's plain
// text, so a panicking route surfaces the same error shape as a handled
// request error.
func recoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		err, ok := recovered.(error)
		if !ok {
			err = fmt.Errorf("%v", recovered)
		}
		logger.Error("panic recovered", zap.Any("recovered", recovered))
		writeAppError(c, apperrors.NewInternalErrorWithCause("internal server error", err))
		c.Abort()
	})
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
