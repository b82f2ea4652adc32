package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunPurgeLoop calls PurgeExpired on every tick until ctx is done.
// onPurge, when set, receives the number removed by each successful pass.
func RunPurgeLoop(ctx context.Context, store MessageStore, interval time.Duration, logger *zap.SugaredLogger, onPurge func(int)) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			count, err := store.PurgeExpired(now)
			if err != nil {
				logger.Warnw("failed to purge expired envelopes", "error", err)
				continue
			}
			if count > 0 {
				logger.Infow("purged expired envelopes", "count", count)
			}
			if onPurge != nil {
				onPurge(count)
			}
		}
	}
}
