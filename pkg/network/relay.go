package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/qight/pkg/metrics"
	"github.com/ZentaChain/qight/pkg/storage"
)

// RelayServer accepts connections from one or more listeners and serves the
// relay protocol on every stream.
type RelayServer struct {
	store      storage.MessageStore
	supervisor *Supervisor
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics

	mu    sync.Mutex
	conns map[Conn]Listener // open connection -> listener it came from

	startTime   time.Time
	connections atomic.Uint64
}

// RelayStats is a point-in-time view of the server
type RelayStats struct {
	Uptime            time.Duration `json:"uptime"`
	ActiveConnections int           `json:"active_connections"`
	TotalConnections  uint64        `json:"total_connections"`
	Store             storage.Stats `json:"store"`
}

// NewRelayServer creates a relay server storing envelopes in store
func NewRelayServer(store storage.MessageStore, cfg HandlerConfig, logger *zap.SugaredLogger, m *metrics.Metrics) *RelayServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	handler := NewStreamHandler(store, cfg, logger.Named("stream"), m)
	return &RelayServer{
		store:      store,
		supervisor: NewSupervisor(handler, logger, m),
		logger:     logger,
		metrics:    m,
		conns:      make(map[Conn]Listener),
		startTime:  time.Now(),
	}
}

// Store returns the server's message store
func (rs *RelayServer) Store() storage.MessageStore {
	return rs.store
}

// ListenAndServe listens for QUIC connections on addr and serves them
func (rs *RelayServer) ListenAndServe(ctx context.Context, addr string, tlsConf *tls.Config, opts QUICOptions) error {
	ln, err := ListenQUIC(addr, tlsConf, opts)
	if err != nil {
		return err
	}
	return rs.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is done or ln fails.
// On return the listener is closed, every connection it accepted is closed
// and all of their stream handlers have finished. Several listeners may be
// served at once; each Serve only tears down its own connections.
func (rs *RelayServer) Serve(ctx context.Context, ln Listener) error {
	rs.logger.Infow("relay listening", "addr", ln.Addr().String())

	var conns sync.WaitGroup
	err := rs.accept(ctx, ln, &conns)

	ln.Close()
	closed := rs.closeConns(ln)
	conns.Wait()

	rs.logger.Infow("relay stopped", "addr", ln.Addr().String(), "closed_connections", closed)
	return err
}

// accept runs the accept loop; conns tracks one goroutine per connection.
func (rs *RelayServer) accept(ctx context.Context, ln Listener, conns *sync.WaitGroup) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrListenerClosed) {
				return nil
			}
			rs.metrics.ConnectionFailed()
			return fmt.Errorf("accept connection: %w", err)
		}

		rs.metrics.ConnectionAccepted()
		rs.connections.Add(1)
		rs.track(conn, ln)

		conns.Add(1)
		go func() {
			defer conns.Done()
			defer rs.untrack(conn)
			rs.supervisor.Serve(ctx, conn)
			if ctx.Err() != nil {
				conn.Close("server shutting down")
			}
		}()
	}
}

func (rs *RelayServer) track(conn Conn, ln Listener) {
	rs.mu.Lock()
	rs.conns[conn] = ln
	rs.mu.Unlock()
}

func (rs *RelayServer) untrack(conn Conn) {
	rs.mu.Lock()
	delete(rs.conns, conn)
	rs.mu.Unlock()
	rs.metrics.ConnectionClosed()
}

// closeConns closes the open connections accepted from ln
func (rs *RelayServer) closeConns(ln Listener) int {
	rs.mu.Lock()
	var conns []Conn
	for c, from := range rs.conns {
		if from == ln {
			conns = append(conns, c)
		}
	}
	rs.mu.Unlock()

	for _, c := range conns {
		c.Close("server shutting down")
	}
	return len(conns)
}

// Stats returns relay statistics
func (rs *RelayServer) Stats() (RelayStats, error) {
	rs.mu.Lock()
	active := len(rs.conns)
	rs.mu.Unlock()

	storeStats, err := rs.store.Stats()
	if err != nil {
		return RelayStats{}, err
	}

	return RelayStats{
		Uptime:            time.Since(rs.startTime),
		ActiveConnections: active,
		TotalConnections:  rs.connections.Load(),
		Store:             storeStats,
	}, nil
}
