package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nstogner/forge/pkg/config"
	"github.com/nstogner/forge/pkg/job"
	"github.com/nstogner/forge/pkg/live"
	"github.com/nstogner/forge/pkg/model/gemini"
	"github.com/nstogner/forge/pkg/sandbox/docker"
	"github.com/nstogner/forge/pkg/server"
	"github.com/nstogner/forge/pkg/store/sqlite"
)

func main() {
	// Setup logger.
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	logger := slog.New(slog.NewTextHandler(os.Stderr, opts))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store.
	os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize model provider.
	provider, err := gemini.New(ctx, cfg.GeminiAPIKey)
	if err != nil {
		slog.Error("Failed to initialize Gemini provider", "error", err)
		os.Exit(1)
	}

	// Initialize sandbox client.
	sandboxes, err := docker.New()
	if err != nil {
		slog.Error("Failed to initialize sandbox client", "error", err)
		os.Exit(1)
	}
	defer sandboxes.Close()

	// Start the build runner in the background.
	dispatcher := job.NewDispatcher(cfg.QueueDepth)
	runner := job.NewRunner(store, store, sandboxes, provider, job.Config{
		Model:           cfg.Model,
		Template:        cfg.SandboxImage,
		MaxIterations:   cfg.MaxIterations,
		PacingDelay:     cfg.PacingDelay,
		CompletionPause: cfg.CompletionPause,
	})
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		runner.Run(ctx, dispatcher.Events())
	}()

	// Re-enter builds interrupted by a previous shutdown.
	if err := job.Recover(ctx, store, dispatcher); err != nil {
		slog.Error("Failed to recover interrupted builds", "error", err)
		os.Exit(1)
	}

	// Start server; stop it when a shutdown signal arrives.
	poller := live.New(store, cfg.PollInterval, cfg.PollLookback)
	srv := server.New(store, store, dispatcher, poller)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(cfg.Addr)
	}()

	select {
	case err := <-serverErr:
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}

	// Let in-flight builds observe the cancelled context and finish.
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		slog.Warn("Builds still in flight at shutdown deadline")
	}
}
