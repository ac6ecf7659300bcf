// Package main is the entry point for the pattern playground server.
//
// MAIN PACKAGE IN GO:
// main() stays small. It reads configuration, builds the long-lived
// dependencies (logger, metrics, sandbox backend) and hands them to
// internal/server. Everything testable lives in the imported packages.
//
// WHY cmd/server/?
// cmd/ holds one directory per executable. This repo has two: the HTTP
// server here and the compare CLI in cmd/compare.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/sakif/pattern-playground/internal/backend"
	"github.com/sakif/pattern-playground/internal/config"
	"github.com/sakif/pattern-playground/internal/metrics"
	"github.com/sakif/pattern-playground/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// .env first (if present), then the real environment. See internal/config.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Text for terminals, JSON for log collectors.
	opts := &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)

	// === 3. METRICS ===
	m := metrics.New()

	// === 4. SANDBOX BACKEND ===
	// Unlike the database, the backend is not optional: without one there is
	// nothing to compare.
	sb, closeBackend, err := backend.Open(context.Background(), cfg, m, logger)
	if err != nil {
		logger.Error("failed to start sandbox backend",
			slog.String("backend", cfg.Sandbox.Backend),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer closeBackend()

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, sb, m, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		closeBackend()
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		closeBackend()
		os.Exit(1)
	}
}
