// Command kbserver wires the knowledge base service's process-singleton
// components together and runs until signaled to stop. It does not speak
// HTTP: spec.md §1 treats HTTP transport framing as an external
// collaborator layered on top of pkg/knowledgebase.Services.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kbservice/kbquery/internal/auth"
	"github.com/kbservice/kbquery/internal/config"
	"github.com/kbservice/kbquery/internal/embedder"
	"github.com/kbservice/kbquery/internal/indexmgr"
	"github.com/kbservice/kbquery/internal/logging"
	"github.com/kbservice/kbquery/internal/store"
	"github.com/kbservice/kbquery/internal/tools"
	"github.com/kbservice/kbquery/internal/trace"
	"github.com/kbservice/kbquery/pkg/knowledgebase"
	"github.com/kbservice/kbquery/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file overlaying defaults and environment")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.WriteToStderr = cfg.Logging.WriteToStderr
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("kbserver exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run constructs Services in the order spec.md §5 requires (storage
// first, then the components that depend on it), blocks until SIGINT or
// SIGTERM, then shuts down in reverse order.
func run(cfg config.Config, logger *slog.Logger) error {
	logger.Info("starting kbserver", slog.String("version", version.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
		return fmt.Errorf("create storage path: %w", err)
	}
	s, err := store.Open(filepath.Join(cfg.Storage.Path, "kb.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	emb := embedder.New(ctx, cfg.Embedder)
	mgr := indexmgr.New(s, emb)

	toolRegistry := tools.New(cfg.Tools)
	gate := auth.New(cfg.Auth.SigningKey, cfg.Auth.APIKey, auth.NewSessionStore(0))
	traceRing := trace.New(cfg.Trace.MaxRecords, cfg.Trace.MaxAge)

	// No Completer implementation ships in this repo (spec.md §1: the LLM
	// call is an external pluggable collaborator); nil means every query
	// uses the deterministic fallback answer until one is wired in.
	svc := knowledgebase.NewServices(s, mgr, emb, toolRegistry, nil, gate, traceRing, logger)
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			logger.Error("error closing services", slog.String("error", closeErr.Error()))
		}
	}()

	logger.Info("kbserver ready", slog.String("storage_path", cfg.Storage.Path))

	<-ctx.Done()
	logger.Info("shutting down kbserver")
	return nil
}
