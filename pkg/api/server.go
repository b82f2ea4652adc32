// Package api provides the relay's admin HTTP API
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ZentaChain/qight/pkg/network"
	"github.com/ZentaChain/qight/pkg/p2p"
)

// NodeInfoProvider reports the libp2p side of the relay
type NodeInfoProvider interface {
	Info() p2p.NodeInfo
}

// Server is the admin HTTP server
type Server struct {
	relay      *network.RelayServer
	node       NodeInfoProvider
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.SugaredLogger
	limiter    *RateLimiter
}

// Config holds server configuration
type Config struct {
	ListenAddr   string
	EnableCORS   bool
	RateLimit    float64 // Requests per second per client IP; 0 disables limiting
	RateBurst    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Node is optional; when set /api/v1/node reports it.
	Node NodeInfoProvider
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   "127.0.0.1:9090",
		RateLimit:    20,
		RateBurst:    40,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer creates the admin API for relay
func NewServer(relay *network.RelayServer, config *Config, logger *zap.SugaredLogger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		relay:  relay,
		node:   config.Node,
		router: gin.New(),
		logger: logger,
	}

	s.setupMiddleware(config)
	s.setupRoutes(config)

	s.httpServer = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}

	if config.RateLimit > 0 {
		s.limiter = NewRateLimiter(config.RateLimit, config.RateBurst)
		s.router.Use(RateLimitMiddleware(s.limiter))
	}

	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes(config *Config) {
	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/stats", s.handleStats)
		v1.GET("/node", s.handleNodeInfo)

		queues := v1.Group("/queues")
		{
			queues.GET("/:recipient", s.handleQueue)
			queues.DELETE("/:recipient", s.handleDrain)
		}
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve answers requests on ln until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Infow("admin API listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Infow("shutting down admin API")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
