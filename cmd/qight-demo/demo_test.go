package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/qight/pkg/crypto"
	"github.com/ZentaChain/qight/pkg/network"
	"github.com/ZentaChain/qight/pkg/protocol"
	"github.com/ZentaChain/qight/pkg/storage"
)

func TestRunDemo(t *testing.T) {
	id, err := crypto.GenerateIdentity([]string{"localhost"})
	require.NoError(t, err)

	ln, err := network.ListenQUIC("127.0.0.1:0", crypto.ServerTLSConfig(id, protocol.ALPN), network.DefaultQUICOptions())
	require.NoError(t, err)

	store := storage.NewMemoryStore(storage.Options{})
	server := network.NewRelayServer(store, network.DefaultHandlerConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	tlsConf, err := crypto.ClientTLSConfig(id.CertDER, protocol.ALPN, "localhost")
	require.NoError(t, err)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer reqCancel()

	client, err := network.Connect(reqCtx, ln.Addr().String(), tlsConf, network.DefaultQUICOptions(), network.ClientOptions{})
	require.NoError(t, err)
	defer client.Close("test complete")

	var out bytes.Buffer
	require.NoError(t, runDemo(reqCtx, &out, "relay", client))

	assert.Contains(t, out.String(), "Server response: Welcome, alice!")
	assert.Contains(t, out.String(), "Fetched 1 envelope(s)")
	assert.Contains(t, out.String(), `"hello via QUIC"`)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"bob": 1}, stats.ByRecipient)
}

func TestClientTLSServerName(t *testing.T) {
	id, err := crypto.GenerateIdentity([]string{"localhost"})
	require.NoError(t, err)
	base, err := crypto.ClientTLSConfig(id.CertDER, protocol.ALPN, "localhost")
	require.NoError(t, err)

	assert.Same(t, base, clientTLS(base, "127.0.0.1:4433"))
	assert.Same(t, base, clientTLS(base, "not-an-endpoint"))
	assert.Equal(t, "relay.example.org", clientTLS(base, "relay.example.org:4433").ServerName)
	assert.Equal(t, "localhost", base.ServerName)
}
