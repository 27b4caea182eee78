// Package main contains the entrypoint for the liveinbox service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgard/liveinbox/internal/app"
	"github.com/edgard/liveinbox/internal/app/tasks"
	"github.com/edgard/liveinbox/internal/config"
	"github.com/edgard/liveinbox/internal/database"
	"github.com/edgard/liveinbox/internal/httpapi"
	"github.com/edgard/liveinbox/internal/inbox"
	"github.com/edgard/liveinbox/internal/ingest"
	"github.com/edgard/liveinbox/internal/liveconnect"
	"github.com/edgard/liveinbox/internal/logger"
	"github.com/edgard/liveinbox/internal/outbound"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes config, logger, database, upstream client, HTTP server and
// scheduler, blocks until shutdown and returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	deps := httpapi.Deps{
		Logger: log,
		Store:  store,
		Ingest: ingest.NewService(store, log),
		Inbox:  inbox.New(store),
	}
	tDeps := tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Config: &cfg.Scheduler,
	}

	if cfg.LiveConnect.HasCredentials() {
		client := liveconnect.New(liveconnect.Config{
			BaseURL:         cfg.LiveConnect.BaseURL,
			CKey:            cfg.LiveConnect.CKey,
			PrivateKey:      cfg.LiveConnect.PrivateKey,
			Timeout:         cfg.LiveConnect.Timeout,
			BreakerFailures: cfg.LiveConnect.BreakerFailures,
			BreakerReset:    cfg.LiveConnect.BreakerReset,
		}, log)
		svc := outbound.NewService(client, store, log)
		deps.Outbound = svc
		tDeps.Balance = svc
		log.Info("LiveConnect client configured", "base_url", cfg.LiveConnect.BaseURL)
	} else {
		log.Warn("LiveConnect credentials not configured; outbound routes are disabled")
	}

	server := httpapi.NewServer(deps, httpapi.Options{
		Addr:              cfg.Server.Addr(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
	})

	sched, err := app.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	orchestrator := app.New(log, server, sched, cfg.Server.ShutdownTimeout)

	log.Info("Starting liveinbox...", "addr", cfg.Server.Addr())
	runErr := orchestrator.Run(ctx)
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("liveinbox stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("liveinbox stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
