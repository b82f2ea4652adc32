package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ZentaChain/qight/internal/config"
	"github.com/ZentaChain/qight/pkg/envelope"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.TLS.CertPath = filepath.Join(dir, "server_cert")
	cfg.TLS.KeyPath = filepath.Join(dir, "server_key")
	cfg.Relay.ListenAddr = "127.0.0.1:0"
	cfg.Admin.Enabled = false
	return cfg
}

func TestInitializeGeneratesIdentity(t *testing.T) {
	cfg := testConfig(t)

	app := NewApp(cfg, zap.NewNop().Sugar())
	require.NoError(t, app.Initialize(context.Background()))
	defer app.Close()

	_, err := os.Stat(cfg.TLS.CertPath)
	require.NoError(t, err)
	_, err = os.Stat(cfg.TLS.KeyPath)
	require.NoError(t, err)

	// A second start reuses the saved identity
	again := NewApp(cfg, zap.NewNop().Sugar())
	require.NoError(t, again.Initialize(context.Background()))
	defer again.Close()
	assert.Equal(t, app.identity.CertDER, again.identity.CertDER)
}

func TestInitializeSQLiteStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "sqlite"
	cfg.Admin.Enabled = true

	app := NewApp(cfg, zap.NewNop().Sugar())
	require.NoError(t, app.Initialize(context.Background()))
	defer app.Close()

	require.NoError(t, app.store.Append("bob", envelope.New("alice", "bob", []byte("hi"), 60)))
	stats, err := app.relay.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Store.Envelopes)
	assert.NotNil(t, app.admin)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.PurgeInterval = 10 * time.Millisecond

	app := NewApp(cfg, zap.NewNop().Sugar())
	require.NoError(t, app.Initialize(context.Background()))
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, app.Run(ctx))
}
