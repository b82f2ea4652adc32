package network

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrPoolClosed = errors.New("client pool closed")
	ErrNoRelays   = errors.New("no relays configured")
)

// Dialer connects to the relay at endpoint.
type Dialer func(ctx context.Context, endpoint string) (*RelayClient, error)

// ClientPool keeps one RelayClient per relay endpoint, redialing endpoints
// whose connection was lost.
type ClientPool struct {
	dial     Dialer
	backoff  Backoff
	maxConns int
	logger   *zap.SugaredLogger
	dials    singleflight.Group

	mu        sync.Mutex
	endpoints []string
	clients   map[string]*pooledClient
	closed    bool
}

type pooledClient struct {
	client   *RelayClient
	lastUsed time.Time
}

// PoolStats describes the pool
type PoolStats struct {
	Endpoints         int `json:"endpoints"`
	ActiveConnections int `json:"active_connections"`
	MaxConnections    int `json:"max_connections"`
}

// NewClientPool creates a pool over endpoints. maxConns <= 0 means one
// connection per endpoint.
func NewClientPool(endpoints []string, dial Dialer, maxConns int, backoff Backoff, logger *zap.SugaredLogger) *ClientPool {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if maxConns <= 0 {
		maxConns = len(endpoints)
	}
	return &ClientPool{
		dial:      dial,
		backoff:   backoff,
		maxConns:  maxConns,
		logger:    logger,
		endpoints: append([]string(nil), endpoints...),
		clients:   make(map[string]*pooledClient),
	}
}

// Endpoints returns the configured relay endpoints in order
func (p *ClientPool) Endpoints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.endpoints...)
}

// Get returns a connected client for endpoint, dialing if needed. The pool
// stays usable while a dial is in progress; concurrent Gets for the same
// endpoint share one dial.
func (p *ClientPool) Get(ctx context.Context, endpoint string) (*RelayClient, error) {
	if client, err := p.cached(endpoint); client != nil || err != nil {
		return client, err
	}

	v, err, _ := p.dials.Do(endpoint, func() (any, error) {
		if client, err := p.cached(endpoint); client != nil || err != nil {
			return client, err
		}

		client, err := dialWithBackoff(ctx, p.backoff, p.logger.With("endpoint", endpoint), func(ctx context.Context) (*RelayClient, error) {
			return p.dial(ctx, endpoint)
		})
		if err != nil {
			return nil, err
		}
		return p.add(endpoint, client)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RelayClient), nil
}

// cached returns the live pooled client for endpoint, if any
func (p *ClientPool) cached(endpoint string) (*RelayClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	pc, ok := p.clients[endpoint]
	if !ok {
		return nil, nil
	}
	if pc.client.Closed() {
		delete(p.clients, endpoint)
		return nil, nil
	}
	pc.lastUsed = time.Now()
	return pc.client, nil
}

// add stores a freshly dialed client, unless the pool was closed meanwhile
func (p *ClientPool) add(endpoint string, client *RelayClient) (*RelayClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		client.Close("client pool closed")
		return nil, ErrPoolClosed
	}

	if pc, ok := p.clients[endpoint]; ok && !pc.client.Closed() {
		client.Close("duplicate connection")
		pc.lastUsed = time.Now()
		return pc.client, nil
	}
	delete(p.clients, endpoint)

	if len(p.clients) >= p.maxConns {
		p.evictLRU()
	}

	p.clients[endpoint] = &pooledClient{client: client, lastUsed: time.Now()}
	return client, nil
}

// Each calls fn with a client for every endpoint, in order. Endpoints that
// cannot be reached are reported through fn's err argument.
func (p *ClientPool) Each(ctx context.Context, fn func(endpoint string, client *RelayClient, err error)) error {
	endpoints := p.Endpoints()
	if len(endpoints) == 0 {
		return ErrNoRelays
	}

	for _, endpoint := range endpoints {
		client, err := p.Get(ctx, endpoint)
		fn(endpoint, client, err)
	}
	return nil
}

// Remove closes and forgets endpoint
func (p *ClientPool) Remove(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.clients[endpoint]; ok {
		pc.client.Close("removed from pool")
		delete(p.clients, endpoint)
	}
	for i, e := range p.endpoints {
		if e == endpoint {
			p.endpoints = append(p.endpoints[:i], p.endpoints[i+1:]...)
			break
		}
	}
}

// Stats returns pool statistics
func (p *ClientPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolStats{
		Endpoints:         len(p.endpoints),
		ActiveConnections: len(p.clients),
		MaxConnections:    p.maxConns,
	}
}

// Close closes every pooled connection with reason
func (p *ClientPool) Close(reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.closed = true

	for _, pc := range p.clients {
		pc.client.Close(reason)
	}
	p.clients = make(map[string]*pooledClient)
	return nil
}

// evictLRU closes the least recently used connection (must be called with lock held)
func (p *ClientPool) evictLRU() {
	if len(p.clients) == 0 {
		return
	}

	endpoints := make([]string, 0, len(p.clients))
	for endpoint := range p.clients {
		endpoints = append(endpoints, endpoint)
	}
	sort.Slice(endpoints, func(i, j int) bool {
		return p.clients[endpoints[i]].lastUsed.Before(p.clients[endpoints[j]].lastUsed)
	})

	oldest := endpoints[0]
	p.logger.Debugw("evicting connection", "endpoint", oldest)
	p.clients[oldest].client.Close("evicted")
	delete(p.clients, oldest)
}
