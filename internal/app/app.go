// Package app wires configuration, storage, the API client, the sync
// orchestrator, and (in daemon mode) the diagnostics HTTP server into one
// running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wisbric/vulnsync/internal/config"
	"github.com/wisbric/vulnsync/internal/credentials"
	"github.com/wisbric/vulnsync/internal/httpserver"
	"github.com/wisbric/vulnsync/internal/store"
	"github.com/wisbric/vulnsync/internal/syncengine"
	"github.com/wisbric/vulnsync/internal/telemetry"
)

// RunOptions carries the CLI flag overrides app.Run applies on top of
// environment-sourced config.
type RunOptions struct {
	Incremental *bool
	BatchSize   *int
}

// Run is the process entry point: load config, connect storage, and
// dispatch to one-shot or daemon mode.
func Run(ctx context.Context, cfg *config.Config, opts RunOptions) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting vulnsync", "mode", cfg.Mode, "storage_path", cfg.StoragePath)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "vulnsync", "dev")
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := store.Open(cfg.StoragePath, logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing storage", "error", err)
		}
	}()

	creds := credentials.NewStaticStore(credentials.Pair{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})

	orchestrator := syncengine.New(db, creds, cfg.APIBaseURL, cfg.AuthURL, cfg.HTTPTimeout, logger)

	syncOpts := syncengine.Options{Incremental: cfg.Incremental, BatchSize: cfg.BatchSize}
	if opts.Incremental != nil {
		syncOpts.Incremental = *opts.Incremental
	}
	if opts.BatchSize != nil {
		syncOpts.BatchSize = *opts.BatchSize
	}

	metricsReg := telemetry.NewRegistry()

	switch cfg.Mode {
	case "once":
		return runOnce(ctx, logger, orchestrator, syncOpts)
	case "daemon":
		return runDaemon(ctx, cfg, logger, db, orchestrator, syncOpts, metricsReg)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runOnce(ctx context.Context, logger *slog.Logger, orchestrator *syncengine.Orchestrator, opts syncengine.Options) error {
	progress := func(e syncengine.ProgressEvent) {
		logger.Info("fetch progress", "stream", e.Type, "count", e.Count)
	}
	incremental := func(e syncengine.IncrementalEvent) {
		logger.Info("batch flushed", "stream", e.Type, "flushed", e.Flushed, "new", e.Stats.New, "updated", e.Stats.Updated, "remediated", e.Stats.Remediated)
	}

	result, err := orchestrator.Sync(ctx, progress, incremental, nil, opts)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	logger.Info("sync complete",
		"vulnerabilities_new", result.Vulnerabilities.New, "vulnerabilities_updated", result.Vulnerabilities.Updated, "vulnerabilities_remediated", result.Vulnerabilities.Remediated,
		"remediations_new", result.Remediations.New, "remediations_updated", result.Remediations.Updated,
		"assets_new", result.Assets.New, "assets_updated", result.Assets.Updated,
	)
	return nil
}

// runDaemon starts the diagnostics HTTP server, launches one sync in the
// background, and blocks until the process is signaled to stop.
func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *store.DB, orchestrator *syncengine.Orchestrator, opts syncengine.Options, metricsReg *prometheus.Registry) error {
	srv := httpserver.NewServer(logger, db, orchestrator, metricsReg)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("diagnostics server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	go func() {
		if err := runOnce(ctx, logger, orchestrator, opts); err != nil {
			logger.Error("background sync failed", "error", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down diagnostics server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := orchestrator.Stop(); err != nil && !errors.Is(err, syncengine.ErrNoActiveSync) {
			logger.Error("stopping active sync during shutdown", "error", err)
		}
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
