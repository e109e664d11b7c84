package bridge

import (
	"context"
	"log/slog"
	"time"
)

// StartSweeper evicts expired entries every interval until ctx is done.
func StartSweeper(ctx context.Context, b *Buffer, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = b.retention
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		logger.Info("UI buffer sweeper started", "interval", interval, "retention", b.retention)

		for {
			select {
			case <-ticker.C:
				if removed := b.Sweep(); removed > 0 {
					logger.Debug("UI buffer swept", "removed", removed, "students", b.Students())
				}
			case <-ctx.Done():
				logger.Info("UI buffer sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
