package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ZentaChain/qight/pkg/crypto"
	"github.com/ZentaChain/qight/pkg/envelope"
	"github.com/ZentaChain/qight/pkg/network"
)

func helloCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hello <client-id>",
		Short: "Announce a client id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close("done")

			return s.run(cmd, func(ctx context.Context, endpoint string, c *network.RelayClient) error {
				resp, err := c.Hello(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", endpoint, strings.TrimSpace(resp))
				return nil
			})
		},
	}
}

func sendCmd() *cobra.Command {
	var (
		sender string
		ttl    uint32
	)

	cmd := &cobra.Command{
		Use:   "send <recipient> <message>",
		Short: "Store a message for recipient",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close("done")

			env := envelope.New(sender, args[0], []byte(args[1]), ttl)
			return s.run(cmd, func(ctx context.Context, endpoint string, c *network.RelayClient) error {
				if err := c.Send(ctx, env); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] stored %s for %s\n", endpoint, env.ID, env.Recipient)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sender, "from", "anonymous", "Sender id")
	cmd.Flags().Uint32Var(&ttl, "ttl", 3600, "Time to live in seconds")
	return cmd
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <recipient>",
		Short: "List messages stored for recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close("done")

			return s.run(cmd, func(ctx context.Context, endpoint string, c *network.RelayClient) error {
				envs, err := c.Fetch(ctx, args[0])
				if err != nil {
					return err
				}
				printEnvelopes(cmd.OutOrStdout(), endpoint, envs)
				return nil
			})
		},
	}
}

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "HELLO, SEND alice->bob, FETCH bob",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession()
			if err != nil {
				return err
			}
			defer s.close("test complete")

			return s.run(cmd, func(ctx context.Context, endpoint string, c *network.RelayClient) error {
				return runDemo(ctx, cmd.OutOrStdout(), endpoint, c)
			})
		},
	}
}

func runDemo(ctx context.Context, out io.Writer, endpoint string, c *network.RelayClient) error {
	resp, err := c.Hello(ctx, "alice")
	if err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	fmt.Fprintf(out, "[%s] Server response: %s\n", endpoint, strings.TrimSpace(resp))

	env := envelope.New("alice", "bob", []byte("hello via QUIC"), 3600)
	if err := c.Send(ctx, env); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Fprintf(out, "[%s] Sent envelope %s\n", endpoint, env.ID)

	envs, err := c.Fetch(ctx, "bob")
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	printEnvelopes(out, endpoint, envs)
	return nil
}

func printEnvelopes(out io.Writer, endpoint string, envs []*envelope.Envelope) {
	fmt.Fprintf(out, "[%s] Fetched %d envelope(s)\n", endpoint, len(envs))
	now := time.Now()
	for _, env := range envs {
		status := "live"
		if env.IsExpired(now) {
			status = "expired"
		}
		fmt.Fprintf(out, "  %s from=%s created=%d ttl=%d %s digest=%s\n    %q\n",
			env.ID, env.Sender, env.CreatedAt, env.TTL, status,
			crypto.Fingerprint(env.Payload)[:16], env.Payload)
	}
}
