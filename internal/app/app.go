// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/skobkin/threadtop-web/internal/config"
	"github.com/skobkin/threadtop-web/internal/httpserver"
	"github.com/skobkin/threadtop-web/internal/procscan"
	"github.com/skobkin/threadtop-web/internal/sampler"
)

const shutdownTimeout = 10 * time.Second

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	scanner, err := procscan.NewScanner(cfg.ProcRoot, cfg.Proc.ReadConcurrency, baseLogger.With("component", "procscan"))
	if err != nil {
		return fmt.Errorf("init proc scanner: %w", err)
	}
	defer func() {
		if err := scanner.Close(); err != nil {
			appLogger.Warn("proc scanner close", "err", err)
		}
	}()

	if err := scanner.Check(); err != nil {
		appLogger.Warn("proc root not readable at startup", "proc_root", cfg.ProcRoot, "err", err)
	}

	samplerManager, err := sampler.NewManager(cfg.SampleInterval, scanner, baseLogger.With("component", "sampler"))
	if err != nil {
		return fmt.Errorf("init sampler manager: %w", err)
	}
	defer func() {
		if err := samplerManager.Close(); err != nil {
			appLogger.Warn("sampler manager close", "err", err)
		}
	}()

	samplerCtx, samplerCancel := context.WithCancel(ctx)
	defer samplerCancel()

	samplerErrCh := make(chan error, 1)
	go func() {
		samplerErrCh <- samplerManager.Run(samplerCtx)
	}()

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), scanner, samplerManager)

	appLogger.Info("starting HTTP server",
		"listen_addr", cfg.ListenAddr,
		"proc_root", cfg.ProcRoot,
		"sample_interval", cfg.SampleInterval,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	for {
		select {
		case err := <-errCh:
			samplerCancel()
			if err != nil {
				return err
			}
			if samplerErrCh != nil {
				if samplerErr := <-samplerErrCh; samplerErr != nil && !errors.Is(samplerErr, context.Canceled) {
					return samplerErr
				}
			}
			return nil
		case err := <-samplerErrCh:
			samplerErrCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
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

			samplerCancel()
			if samplerErrCh != nil {
				if samplerErr := <-samplerErrCh; samplerErr != nil && !errors.Is(samplerErr, context.Canceled) {
					return samplerErr
				}
			}

			appLogger.Info("shutdown complete")
			return nil
		}
	}
}
