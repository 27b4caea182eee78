// Package tasks implements the scheduled maintenance tasks of liveinbox.
package tasks

import (
	"context"
	"log/slog"

	"github.com/edgard/liveinbox/internal/config"
	"github.com/edgard/liveinbox/internal/database"
	"github.com/edgard/liveinbox/internal/liveconnect"
)

// BalanceFetcher refreshes the cached account balance.
type BalanceFetcher interface {
	Balance(ctx context.Context) (liveconnect.Response, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
// Balance is nil when LiveConnect credentials are not configured.
// A nil Config gives every task its default timeout.
type TaskDeps struct {
	Logger  *slog.Logger
	Store   database.Store
	Balance BalanceFetcher
	Config  *config.SchedulerConfig
}
