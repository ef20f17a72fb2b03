package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrypster/ide-memory/internal/api/mcp"
	"github.com/scrypster/ide-memory/internal/config"
	"github.com/scrypster/ide-memory/internal/metrics"
	"github.com/scrypster/ide-memory/internal/storage"
	"github.com/scrypster/ide-memory/internal/storage/postgres"
	"github.com/scrypster/ide-memory/internal/storage/sqlite"
	"github.com/scrypster/ide-memory/internal/telemetry"
)

var errHTTPNotImplemented = errors.New("http transport not implemented; use stdio")

func runServe(cmd *cobra.Command, f *flags) error {
	cfg, logger, err := setup(cmd, f)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if f.stats {
		return printStatsJSON(cmd, cfg)
	}
	if cfg.Server.Transport == config.TransportHTTP {
		return errHTTPNotImplemented
	}

	ctx := cmd.Context()
	sessionID := uuid.NewString()

	flush, err := telemetry.Init(telemetry.Config{
		DSN:         cfg.Telemetry.SentryDSN,
		Environment: cfg.Telemetry.Environment,
		Release:     "ide-memory@" + cmd.Root().Version,
	}, logger)
	if err != nil {
		logger.Warn("error reporting disabled", zap.Error(err))
	}
	defer flush()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close knowledge store", zap.Error(err))
		}
	}()

	recorder, closeMetrics := openRecorder(cfg, sessionID, logger)
	defer closeMetrics()

	srv := mcp.NewServer(store,
		mcp.WithRecorder(recorder),
		mcp.WithLogger(logger),
		mcp.WithSessionID(sessionID),
		mcp.WithRegistryOptions(mcp.WithMaxSearchLimit(cfg.Server.MaxSearchLimit)),
	)

	logger.Debug("serving MCP over stdio",
		zap.String("engine", cfg.Storage.Engine),
		zap.String("database", cfg.Storage.DatabasePath),
		zap.Bool("metrics", cfg.Metrics.Enabled))

	err = mcp.NewStdioTransport(srv, cmd.InOrStdin(), cmd.OutOrStdout(), logger).Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Debug("shutdown requested")
		return nil
	}
	return err
}

// openStore opens the knowledge store selected by the configuration.
func openStore(cfg *config.Config, logger *zap.Logger) (storage.KnowledgeStore, error) {
	switch cfg.Storage.Engine {
	case config.EnginePostgres:
		store, err := postgres.NewKnowledgeStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres knowledge store: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.NewKnowledgeStore(cfg.Storage.DatabasePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open knowledge database %q: %w", cfg.Storage.DatabasePath, err)
		}
		return store, nil
	}
}

// openRecorder returns the metrics recorder and a function releasing it.
// A metrics database that cannot be opened disables metrics instead of
// failing startup.
func openRecorder(cfg *config.Config, sessionID string, logger *zap.Logger) (metrics.Recorder, func()) {
	if !cfg.Metrics.Enabled {
		return metrics.Nop{}, func() {}
	}

	path := cfg.MetricsPath()
	store, err := metrics.NewStore(path, metrics.WithSessionID(sessionID))
	if err != nil {
		logger.Warn("metrics disabled", zap.String("path", path), zap.Error(err))
		return metrics.Nop{}, func() {}
	}
	logger.Debug("metrics enabled", zap.String("path", path))

	return metrics.NewGuarded(store, logger), func() {
		if err := store.Close(); err != nil {
			logger.Warn("close metrics store", zap.Error(err))
		}
	}
}

// printStatsJSON writes aggregate metrics as indented JSON to stdout.
func printStatsJSON(cmd *cobra.Command, cfg *config.Config) error {
	if !cfg.Metrics.Enabled {
		return errors.New("metrics are not enabled; use --metrics")
	}
	store, err := metrics.NewStore(cfg.MetricsPath())
	if err != nil {
		return fmt.Errorf("open metrics database: %w", err)
	}
	defer func() { _ = store.Close() }()

	stats, err := store.ServerStats(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
