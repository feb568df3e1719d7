package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPruneInterval is how often StartPruneWorker sweeps.
const DefaultPruneInterval = 10 * time.Minute

// StartPruneWorker runs a background goroutine that periodically deletes
// notifications older than retention. It stops when ctx is done.
func StartPruneWorker(ctx context.Context, repo Repository, interval, retention time.Duration) {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Prune worker started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				pruneNotifications(ctx, repo, retention)
			case <-ctx.Done():
				slog.Info("Prune worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func pruneNotifications(ctx context.Context, repo Repository, retention time.Duration) {
	deleted, err := repo.PruneNotifications(ctx, time.Now().Add(-retention))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("Prune worker failed to delete notifications", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Prune worker deleted old notifications", "count", deleted)
	}
}
