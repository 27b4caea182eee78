package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/edgard/liveinbox/internal/config"
)

// newSQLMaintenanceTask vacuums the message store within the configured
// timeout and logs how much space it gave back.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", config.TaskSQLMaintenance)
	timeout := deps.Config.TaskTimeout(config.TaskSQLMaintenance, config.DefaultSQLMaintenanceTimeout)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		before, beforeErr := deps.Store.DatabaseSize(ctx)
		if beforeErr != nil {
			log.WarnContext(ctx, "Could not read database size before vacuum", "error", beforeErr)
		}

		startTime := time.Now()
		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			log.ErrorContext(ctx, "Vacuum failed", "error", err, "timeout", timeout, "duration", time.Since(startTime))
			return fmt.Errorf("sql maintenance failed: %w", err)
		}
		duration := time.Since(startTime)

		after, afterErr := deps.Store.DatabaseSize(ctx)
		if beforeErr != nil || afterErr != nil {
			log.InfoContext(ctx, "Vacuum completed", "duration", duration)
			return nil
		}

		log.InfoContext(ctx, "Vacuum completed",
			"duration", duration,
			"size_before_bytes", before,
			"size_after_bytes", after,
			"reclaimed_bytes", max(before-after, 0))
		return nil
	}
}
