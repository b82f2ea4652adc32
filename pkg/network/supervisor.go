package network

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ZentaChain/qight/pkg/metrics"
)

// Supervisor accepts streams on connections and hands each one to the
// stream handler on its own goroutine.
type Supervisor struct {
	handler *StreamHandler
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewSupervisor creates a supervisor dispatching to handler
func NewSupervisor(handler *StreamHandler, logger *zap.SugaredLogger, m *metrics.Metrics) *Supervisor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Supervisor{
		handler: handler,
		logger:  logger,
		metrics: m,
	}
}

// Serve accepts streams on conn until the connection ends or ctx is done.
// Accepting never waits on a handler; once accepting stops, Serve returns
// after the handlers of this connection have finished.
func (sv *Supervisor) Serve(ctx context.Context, conn Conn) error {
	remote := conn.RemoteAddr()
	logger := sv.logger.With("remote", remote)
	logger.Debugw("connection established")

	var handlers sync.WaitGroup
	defer handlers.Wait()

	var streams uint64
	for {
		s, err := conn.AcceptStream(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				logger.Debugw("stopped accepting streams", "streams", streams)
				return nil
			case errors.Is(err, ErrConnectionClosed):
				logger.Debugw("connection closed", "streams", streams, "reason", err)
				return nil
			default:
				logger.Warnw("connection failed", "streams", streams, "error", err)
				return err
			}
		}

		streams++
		id := streams
		handlers.Add(1)
		go func() {
			defer handlers.Done()
			if err := sv.handler.Handle(ctx, s, remote); err != nil {
				logger.Debugw("stream ended with error", "stream", id, "error", err)
			}
		}()
	}
}
