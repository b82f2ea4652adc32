package network

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Backoff controls how a failed dial is retried.
type Backoff struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int // Total dial attempts, at least 1
}

// DefaultBackoff retries twice, starting at one second
var DefaultBackoff = Backoff{
	Initial:  time.Second,
	Max:      30 * time.Second,
	Attempts: 3,
}

// dialWithBackoff calls dial until it succeeds, the attempts run out or ctx
// is done. The delay doubles after every failure up to b.Max.
func dialWithBackoff(ctx context.Context, b Backoff, logger *zap.SugaredLogger, dial func(context.Context) (*RelayClient, error)) (*RelayClient, error) {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := b.Initial

	var lastErr error
	for attempt := 1; ; attempt++ {
		client, err := dial(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Infow("reconnected", "attempt", attempt)
			}
			return client, nil
		}
		lastErr = err

		if attempt >= attempts {
			return nil, lastErr
		}

		logger.Warnw("dial failed, retrying", "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if b.Max > 0 && delay > b.Max {
			delay = b.Max
		}
	}
}
