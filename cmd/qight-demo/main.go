package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZentaChain/qight/pkg/crypto"
	"github.com/ZentaChain/qight/pkg/logging"
	"github.com/ZentaChain/qight/pkg/network"
	"github.com/ZentaChain/qight/pkg/protocol"
)

type options struct {
	relays     []string
	certPath   string
	serverName string
	alpn       string
	maxPayload uint32
	timeout    time.Duration
	logLevel   string
}

var opts options

func main() {
	rootCmd := &cobra.Command{
		Use:          "qight-demo",
		Short:        "Talk to qight relays",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringArrayVarP(&opts.relays, "relay", "r", []string{"127.0.0.1:4433"}, "Relay address; repeat to use several relays")
	flags.StringVar(&opts.certPath, "cert", "server_cert", "Relay certificate (DER) to trust")
	flags.StringVar(&opts.serverName, "server-name", "localhost", "TLS server name the certificate was issued for")
	flags.StringVar(&opts.alpn, "alpn", protocol.ALPN, "ALPN protocol")
	flags.Uint32Var(&opts.maxPayload, "max-payload", protocol.DefaultMaxPayloadSize, "Largest envelope to send or accept, in bytes")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Per-command timeout")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level")

	rootCmd.AddCommand(helloCmd(), sendCmd(), fetchCmd(), demoCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session holds a client pool for the configured relays
type session struct {
	pool *network.ClientPool
	log  *zap.SugaredLogger
}

func newSession() (*session, error) {
	log, err := logging.New(opts.logLevel, true)
	if err != nil {
		return nil, err
	}

	tlsConf, err := crypto.LoadClientTLSConfig(opts.certPath, opts.alpn, opts.serverName)
	if err != nil {
		return nil, err
	}

	dial := func(ctx context.Context, endpoint string) (*network.RelayClient, error) {
		return network.Connect(ctx, endpoint, clientTLS(tlsConf, endpoint), network.DefaultQUICOptions(), network.ClientOptions{
			MaxPayloadSize: opts.maxPayload,
			Logger:         log,
		})
	}

	return &session{
		pool: network.NewClientPool(opts.relays, dial, 0, network.DefaultBackoff, log),
		log:  log,
	}, nil
}

// clientTLS keeps the configured server name unless the endpoint names a host
// other than an IP address.
func clientTLS(base *tls.Config, endpoint string) *tls.Config {
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil || net.ParseIP(host) != nil || host == "" {
		return base
	}
	c := base.Clone()
	c.ServerName = host
	return c
}

func (s *session) close(reason string) {
	s.pool.Close(reason)
	s.log.Sync()
}

// run calls fn for every relay and fails if any relay failed
func (s *session) run(cmd *cobra.Command, fn func(ctx context.Context, endpoint string, c *network.RelayClient) error) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var failed []string
	err := s.pool.Each(ctx, func(endpoint string, c *network.RelayClient, err error) {
		if err == nil {
			cctx, ccancel := context.WithTimeout(ctx, opts.timeout)
			err = fn(cctx, endpoint, c)
			ccancel()
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] error: %v\n", endpoint, err)
			failed = append(failed, endpoint)
		}
	})
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d relays failed: %s", len(failed), len(opts.relays), strings.Join(failed, ", "))
	}
	return nil
}
