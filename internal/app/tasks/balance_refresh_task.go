package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/edgard/liveinbox/internal/config"
)

// newBalanceRefreshTask creates a task that fetches the balance so the cache
// stays warm for upstream outages.
func newBalanceRefreshTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", config.TaskBalanceRefresh)
	timeout := deps.Config.TaskTimeout(config.TaskBalanceRefresh, config.DefaultBalanceRefreshTimeout)

	return func(ctx context.Context) error {
		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		startTime := time.Now()
		resp, err := deps.Balance.Balance(timeoutCtx)
		duration := time.Since(startTime)

		if err != nil {
			log.ErrorContext(ctx, "Balance refresh failed", "error", err, "duration", duration)
			return fmt.Errorf("balance refresh failed: %w", err)
		}
		if cached, _ := resp["cached"].(bool); cached {
			return fmt.Errorf("balance refresh served from cache: upstream unavailable")
		}
		if !resp.OK() {
			log.WarnContext(ctx, "Balance refresh rejected by upstream", "status_code", resp.StatusCode(), "duration", duration)
			return fmt.Errorf("balance refresh rejected with status %d", resp.StatusCode())
		}

		log.InfoContext(ctx, "Balance refreshed", "duration", duration)
		return nil
	}
}
