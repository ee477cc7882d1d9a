package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/halcyonsec/ofckb/internal/config"
	"github.com/halcyonsec/ofckb/internal/feedback"
	"github.com/halcyonsec/ofckb/internal/httpapi"
	"github.com/halcyonsec/ofckb/internal/logging"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve-review",
	Short: "Serve the review queue over HTTP",
	Long: `Run the review API server. While running, the config file is watched
for threshold changes and the feedback loop periodically recalibrates
the thresholds from review outcomes.

Endpoints:
  GET  /v1/review
  POST /v1/review/:id/approve
  POST /v1/review/:id/reject
  GET  /v1/healthz`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logging.Sync(logger) }()

	rt, err := openRuntime(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := httpapi.NewServer(rt.engine, cfg.HTTP.Addr, logger)
	if err != nil {
		return err
	}

	// Live threshold updates from config edits. Invalid values are
	// rejected by the controller and the previous thresholds stay.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(updated *config.Config) {
			if err := rt.controller.Update(updated.Thresholds()); err != nil {
				logger.Warn("rejected threshold update from config", zap.Error(err))
			}
		}, logger)
		if err != nil {
			logger.Warn("config watching disabled", zap.Error(err))
		} else {
			go func() { _ = watcher.Run(ctx) }()
		}
	}

	if cfg.Feedback.Enabled {
		loop := feedback.NewLoop(rt.controller, rt.ledger, cfg.Feedback.Interval.Duration(), cfg.Feedback.Window, logger)
		go loop.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Persist thresholds so the next process starts where this one left off.
	return rt.ledger.SaveThresholds(context.Background(), rt.controller.Current())
}
