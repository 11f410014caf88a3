// Command gateway is the lmproxy entrypoint: load configuration, wire the
// middleware chain, worker pool, retry controller, and engine, then serve
// the OpenAI-compatible HTTP API. Adapted from the teacher's
// cmd/cli/main.go cobra subcommand structure (serve/version/doctor),
// preferred over this package's own original manual-os.Args dispatch
// since cobra is already the pack's idiom for this job.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zonde306/lmproxy/internal/config"
	"github.com/zonde306/lmproxy/internal/engine"
	"github.com/zonde306/lmproxy/internal/httpapi"
	"github.com/zonde306/lmproxy/internal/logging"
	"github.com/zonde306/lmproxy/internal/middleware"
	"github.com/zonde306/lmproxy/internal/retry"
	"github.com/zonde306/lmproxy/internal/worker"
	"github.com/zonde306/lmproxy/internal/workermanager"

	// Adapter packages register themselves with internal/worker at init.
	_ "github.com/zonde306/lmproxy/internal/worker/gemini"
	_ "github.com/zonde306/lmproxy/internal/worker/openai"
)

const (
	appVersion = "0.1.0"
	appName    = "lmproxy"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "lmproxy — OpenAI-compatible LLM gateway",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "start the gateway HTTP server",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "check the local environment",
		RunE:  runDoctor,
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("starting lmproxy gateway", zap.String("version", appVersion))

	chain, tools := buildMiddlewareChain(cfg, log)
	workers := buildWorkers(cfg, log)
	manager := workermanager.New(log, workers, nil)
	retries := retry.New(chain, retry.Options{
		MaxAttempts: cfg.Retry.MaxAttempts,
		WaitTime:    cfg.Retry.WaitTime,
		Logger:      log,
	})
	eng := engine.New(chain, retries, manager, log)

	if tools != nil {
		tools.SetRegenerate(eng.RegenerateText)
	}

	server := httpapi.NewServer(httpapi.Config{
		Host: cfg.Gateway.Host,
		Port: cfg.Gateway.Port,
		Mode: "production",
	}, eng, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("lmproxy stopped")
	return nil
}

// buildMiddlewareChain constructs every configured middleware via the
// class registry, in the configured priority order. It also returns the
// Tools middleware instance, if configured, so its Regenerate callback
// can be wired to the Engine once constructed: the chain is built first
// and the engine second, but Tools needs a live reference back to the
// engine's RegenerateText.
func buildMiddlewareChain(cfg *config.Config, log *zap.Logger) (*middleware.Chain, *middleware.Tools) {
	entries := cfg.Middleware.Entries()
	mws := make([]middleware.Middleware, 0, len(entries))
	priorities := make([]int, 0, len(entries))
	var tools *middleware.Tools

	for _, e := range entries {
		mw, err := middleware.Create(e.Class, e.Settings)
		if err != nil {
			log.Error("failed to construct middleware", zap.String("class", e.Class), zap.Error(err))
			continue
		}
		if t, ok := mw.(*middleware.Tools); ok {
			tools = t
		}
		mws = append(mws, mw)
		priorities = append(priorities, e.Priority)
	}

	return middleware.New(log, mws, priorities), tools
}

func buildWorkers(cfg *config.Config, log *zap.Logger) []worker.Worker {
	entries := cfg.Worker.Entries()
	workers := make([]worker.Worker, 0, len(entries))
	for _, e := range entries {
		w, err := worker.Create(e.Class, e.Settings)
		if err != nil {
			log.Error("failed to construct worker", zap.String("class", e.Class), zap.Error(err))
			continue
		}
		workers = append(workers, w)
	}
	return workers
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("lmproxy doctor v%s\n\n", appVersion)

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"config file", checkConfig},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "OK"
		if !ok {
			icon = "MISSING"
			allOK = false
		}
		fmt.Printf("  [%s] %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("all checks passed")
	} else {
		fmt.Println("one or more checks failed, see above")
	}
	return nil
}

func checkConfig() (string, bool) {
	path := os.Getenv("HOME") + "/.lmproxy/config.yaml"
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "not found: " + path, false
}
