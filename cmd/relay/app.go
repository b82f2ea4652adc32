package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ZentaChain/qight/internal/config"
	"github.com/ZentaChain/qight/pkg/api"
	"github.com/ZentaChain/qight/pkg/crypto"
	"github.com/ZentaChain/qight/pkg/metrics"
	"github.com/ZentaChain/qight/pkg/network"
	"github.com/ZentaChain/qight/pkg/p2p"
	"github.com/ZentaChain/qight/pkg/storage"
)

// App wires the relay's components together
type App struct {
	cfg *config.Config
	log *zap.SugaredLogger

	store    storage.MessageStore
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	identity *crypto.Identity
	relay    *network.RelayServer
	node     *p2p.Node
	admin    *api.Server
}

func NewApp(cfg *config.Config, log *zap.SugaredLogger) *App {
	return &App{cfg: cfg, log: log}
}

// Initialize opens the store, loads the TLS identity and builds every server.
// Nothing listens until Run.
func (a *App) Initialize(ctx context.Context) error {
	store, err := storage.Open(a.cfg.Store.Backend, storage.Options{MaxQueueLen: a.cfg.Store.MaxQueueLen})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = store
	a.log.Infow("store opened", "backend", a.cfg.Store.Backend, "max_queue_len", a.cfg.Store.MaxQueueLen)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if a.metrics, err = metrics.New(a.registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	if err := a.metrics.TrackStore(store); err != nil {
		return fmt.Errorf("failed to register store metrics: %w", err)
	}

	id, generated, err := crypto.LoadOrGenerateIdentity(a.cfg.TLS.CertPath, a.cfg.TLS.KeyPath, a.cfg.TLS.Hosts)
	if err != nil {
		return fmt.Errorf("failed to load TLS identity: %w", err)
	}
	a.identity = id
	a.log.Infow("TLS identity ready",
		"cert", a.cfg.TLS.CertPath,
		"generated", generated,
		"fingerprint", crypto.Fingerprint(id.CertDER),
	)

	a.relay = network.NewRelayServer(store, network.HandlerConfig{
		MaxPayloadSize:     a.cfg.Relay.MaxPayloadBytes,
		MaxCommandLineSize: a.cfg.Relay.MaxCommandLineBytes,
	}, a.log.Named("relay"), a.metrics)

	if a.cfg.P2P.Enabled {
		a.node, err = p2p.NewNode(ctx, p2p.NodeConfig{
			ListenAddrs:    a.cfg.P2P.ListenAddrs,
			BootstrapPeers: a.cfg.P2P.BootstrapPeers,
			EnableNAT:      a.cfg.P2P.EnableNAT,
			Logger:         a.log.Named("p2p"),
		})
		if err != nil {
			return fmt.Errorf("failed to start p2p node: %w", err)
		}
	}

	if a.cfg.Admin.Enabled {
		adminCfg := api.DefaultConfig()
		adminCfg.ListenAddr = a.cfg.Admin.ListenAddr
		adminCfg.EnableCORS = a.cfg.Admin.EnableCORS
		adminCfg.RateLimit = a.cfg.Admin.RateLimit
		adminCfg.RateBurst = a.cfg.Admin.RateBurst
		adminCfg.Gatherer = a.registry
		if a.node != nil {
			adminCfg.Node = a.node
		}
		a.admin = api.NewServer(a.relay, adminCfg, a.log.Named("admin"))
	}

	return nil
}

// Run serves until ctx is cancelled or a component fails
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tlsConf := crypto.ServerTLSConfig(a.identity, a.cfg.Relay.ALPN)
		return a.relay.ListenAndServe(gctx, a.cfg.Relay.ListenAddr, tlsConf, network.QUICOptions{
			MaxIncomingStreams: a.cfg.Relay.MaxIncomingStreams,
			MaxIdleTimeout:     a.cfg.Relay.MaxIdleTimeout,
		})
	})

	if a.node != nil {
		g.Go(func() error {
			return a.relay.Serve(gctx, a.node.Listen())
		})
	}

	if a.admin != nil {
		g.Go(func() error {
			return a.admin.ListenAndServe(gctx)
		})
	}

	if interval := a.cfg.Store.PurgeInterval; interval > 0 {
		g.Go(func() error {
			storage.RunPurgeLoop(gctx, a.store, interval, a.log.Named("retention"), a.metrics.EnvelopesPurged)
			return nil
		})
	}

	return g.Wait()
}

// Close releases the p2p node and the store
func (a *App) Close() error {
	var errs []error
	if a.node != nil {
		if err := a.node.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close p2p node: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
