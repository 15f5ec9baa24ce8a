package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunPurger deletes expired entries every interval until ctx is done.
func RunPurger(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Purge(ctx, now.UTC(), batch)
			if err != nil {
				logger.Warn("idempotency: purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency: purged expired keys", zap.Int("removed", removed))
			}
		}
	}
}
