package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4433", cfg.Relay.ListenAddr)
	assert.Equal(t, "qight", cfg.Relay.ALPN)
	assert.Equal(t, uint32(10_000_000), cfg.Relay.MaxPayloadBytes)
	assert.Equal(t, 4096, cfg.Relay.MaxCommandLineBytes)
	assert.Equal(t, int64(100), cfg.Relay.MaxIncomingStreams)
	assert.Equal(t, 30*time.Second, cfg.Relay.MaxIdleTimeout)

	assert.Equal(t, "server_cert", cfg.TLS.CertPath)
	assert.Equal(t, "server_key", cfg.TLS.KeyPath)
	assert.Equal(t, []string{"localhost"}, cfg.TLS.Hosts)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Zero(t, cfg.Store.MaxQueueLen)
	assert.Zero(t, cfg.Store.PurgeInterval)

	assert.False(t, cfg.P2P.Enabled)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, "127.0.0.1:9090", cfg.Admin.ListenAddr)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.Equal(t, cfg, Default())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relay:
  listen_addr: 0.0.0.0:5000
  max_payload_bytes: 2048
store:
  backend: sqlite
  max_queue_len: 50
  purge_interval: 1m
p2p:
  enabled: true
  bootstrap_peers:
    - /ip4/10.0.0.1/tcp/4001/p2p/12D3KooWabc
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5000", cfg.Relay.ListenAddr)
	assert.Equal(t, uint32(2048), cfg.Relay.MaxPayloadBytes)
	assert.Equal(t, "qight", cfg.Relay.ALPN, "unset keys keep defaults")
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, 50, cfg.Store.MaxQueueLen)
	assert.Equal(t, time.Minute, cfg.Store.PurgeInterval)
	assert.True(t, cfg.P2P.Enabled)
	assert.Equal(t, []string{"/ip4/10.0.0.1/tcp/4001/p2p/12D3KooWabc"}, cfg.P2P.BootstrapPeers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QIGHT_RELAY_LISTEN_ADDR", "127.0.0.1:7000")
	t.Setenv("QIGHT_STORE_MAX_QUEUE_LEN", "10")
	t.Setenv("QIGHT_ADMIN_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Relay.ListenAddr)
	assert.Equal(t, 10, cfg.Store.MaxQueueLen)
	assert.False(t, cfg.Admin.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Relay.MaxPayloadBytes = 0
	cfg.Store.Backend = "redis"
	cfg.Logging.Level = "chatty"

	err := cfg.Validate()
	require.Error(t, err)

	var fields []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var ve *ValidationError
		require.True(t, errors.As(e, &ve))
		fields = append(fields, ve.Field)
	}
	assert.ElementsMatch(t, []string{"relay.max_payload_bytes", "store.backend", "logging.level"}, fields)
}

func TestValidateP2PRequiresListenAddrs(t *testing.T) {
	cfg := Default()
	cfg.P2P.Enabled = true
	cfg.P2P.ListenAddrs = nil

	var ve *ValidationError
	require.ErrorAs(t, cfg.Validate(), &ve)
	assert.Equal(t, "p2p.listen_addrs", ve.Field)
}
