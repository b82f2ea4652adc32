package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/qight/internal/config"
	"github.com/ZentaChain/qight/pkg/crypto"
	"github.com/ZentaChain/qight/pkg/logging"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:          "relay",
		Short:        "qight store-and-forward relay",
		Long:         "Relay accepts QUIC (and optionally libp2p) connections, stores envelopes per recipient and hands them out on request.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file (optional, QIGHT_* env vars override)")

	serve := serveCmd()
	rootCmd.RunE = serve.RunE
	rootCmd.AddCommand(serve, gencertCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			log, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Errorw("failed to initialize relay", "error", err)
				return err
			}
			defer app.Close()

			if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("relay stopped with error", "error", err)
				return err
			}
			log.Infow("relay shutdown complete")
			return nil
		},
	}
}

func gencertCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "gencert",
		Short: "Generate the relay's self-signed certificate and key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			if !force {
				if _, err := os.Stat(cfg.TLS.CertPath); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", cfg.TLS.CertPath)
				}
			}

			id, err := crypto.GenerateIdentity(cfg.TLS.Hosts)
			if err != nil {
				return err
			}
			if err := id.Save(cfg.TLS.CertPath, cfg.TLS.KeyPath); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "certificate: %s\nkey:         %s\nfingerprint: %s\n",
				cfg.TLS.CertPath, cfg.TLS.KeyPath, crypto.Fingerprint(id.CertDER))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing certificate")
	return cmd
}
