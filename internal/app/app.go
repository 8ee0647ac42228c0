// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kvisser/memtrack"
	"github.com/kvisser/memtrack/internal/config"
	"github.com/kvisser/memtrack/internal/httpserver"
)

const shutdownTimeout = 10 * time.Second

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	monitor, err := memtrack.New(cfg.OutputPath, memtrack.Config{
		Granularity:  cfg.Granularity,
		MemoryBudget: int64(cfg.MemoryBudget.Bytes()),
		ProcRoot:     cfg.ProcRoot,
		Logger:       baseLogger.With("component", "monitor"),
	})
	if err != nil {
		return fmt.Errorf("init monitor: %w", err)
	}

	appLogger.Info("monitor started",
		"pid", monitor.PID(),
		"output", monitor.Path(),
		"granularity", monitor.Granularity(),
	)

	// The final flush happens in Close; a failure there means recorded
	// samples were lost, so the error is propagated.
	monitorClosed := false
	closeMonitor := func() error {
		if monitorClosed {
			return nil
		}
		monitorClosed = true
		if err := monitor.Close(); err != nil {
			return fmt.Errorf("close monitor: %w", err)
		}
		stats := monitor.Stats()
		appLogger.Info("monitor stopped",
			"samples", stats.SamplesTotal,
			"flushes", stats.Flushes,
			"bytes_written", stats.BytesWritten,
		)
		return nil
	}
	defer func() {
		if err := closeMonitor(); err != nil {
			appLogger.Error("monitor close", "err", err)
		}
	}()

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), monitor)

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
		return closeMonitor()
	case <-ctx.Done():
		appLogger.Info("shutdown initiated", "reason", ctx.Err())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http shutdown: %w", err)
		}

		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		if err := closeMonitor(); err != nil {
			return err
		}

		appLogger.Info("shutdown complete")
		return nil
	}
}
