// Package config loads the relay's configuration
package config

import (
	"time"
)

type Config struct {
	Relay   RelayConfig   `mapstructure:"relay"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Store   StoreConfig   `mapstructure:"store"`
	P2P     P2PConfig     `mapstructure:"p2p"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type RelayConfig struct {
	ListenAddr          string        `mapstructure:"listen_addr"`
	ALPN                string        `mapstructure:"alpn"`
	MaxPayloadBytes     uint32        `mapstructure:"max_payload_bytes"`
	MaxCommandLineBytes int           `mapstructure:"max_command_line_bytes"`
	MaxIncomingStreams  int64         `mapstructure:"max_incoming_streams"`
	MaxIdleTimeout      time.Duration `mapstructure:"max_idle_timeout"`
}

type TLSConfig struct {
	CertPath string   `mapstructure:"cert_path"`
	KeyPath  string   `mapstructure:"key_path"`
	Hosts    []string `mapstructure:"hosts"`
}

type StoreConfig struct {
	Backend       string        `mapstructure:"backend"`
	MaxQueueLen   int           `mapstructure:"max_queue_len"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

type P2PConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	ListenAddrs    []string `mapstructure:"listen_addrs"`
	BootstrapPeers []string `mapstructure:"bootstrap_peers"`
	EnableNAT      bool     `mapstructure:"enable_nat"`
}

type AdminConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	ListenAddr string  `mapstructure:"listen_addr"`
	EnableCORS bool    `mapstructure:"enable_cors"`
	RateLimit  float64 `mapstructure:"rate_limit"`
	RateBurst  int     `mapstructure:"rate_burst"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}
