// Package app wires the long-running components of liveinbox together and
// manages their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// HTTPServer is the part of the HTTP front the orchestrator drives.
type HTTPServer interface {
	Run(ctx context.Context, shutdownTimeout time.Duration) error
}

// App represents the running application and manages its components' lifecycle.
type App struct {
	logger          *slog.Logger
	server          HTTPServer
	scheduler       *Scheduler
	shutdownTimeout time.Duration
}

// New creates the orchestrator for an HTTP server and a scheduler.
func New(logger *slog.Logger, server HTTPServer, scheduler *Scheduler, shutdownTimeout time.Duration) *App {
	return &App{
		logger:          logger.With("component", "app_orchestrator"),
		server:          server,
		scheduler:       scheduler,
		shutdownTimeout: shutdownTimeout,
	}
}

// Run starts the HTTP server and the scheduler and blocks until ctx is
// cancelled or either component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server...")
		if err := a.server.Run(gCtx, a.shutdownTimeout); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		if gCtx.Err() == nil {
			a.logger.Warn("HTTP server stopped unexpectedly without context cancellation.")
			return fmt.Errorf("http server stopped unexpectedly")
		}
		return nil
	})

	g.Go(func() error {
		a.logger.Info("Starting scheduler...")
		if err := a.scheduler.Start(); err != nil {
			a.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	a.logger.Info("Application running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully.")
	return nil
}
