package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/ZentaChain/qight/pkg/protocol"
)

// EnvPrefix prefixes every environment override, e.g. QIGHT_RELAY_LISTEN_ADDR
const EnvPrefix = "QIGHT"

// Load reads configFile (optional, YAML) and QIGHT_* environment overrides
// on top of the defaults, then validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not unmarshal: %v", err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("relay.listen_addr", "127.0.0.1:4433")
	v.SetDefault("relay.alpn", protocol.ALPN)
	v.SetDefault("relay.max_payload_bytes", protocol.DefaultMaxPayloadSize)
	v.SetDefault("relay.max_command_line_bytes", protocol.DefaultMaxCommandLineSize)
	v.SetDefault("relay.max_incoming_streams", 100)
	v.SetDefault("relay.max_idle_timeout", "30s")

	v.SetDefault("tls.cert_path", "server_cert")
	v.SetDefault("tls.key_path", "server_key")
	v.SetDefault("tls.hosts", []string{"localhost"})

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.max_queue_len", 0)
	v.SetDefault("store.purge_interval", "0s")

	v.SetDefault("p2p.enabled", false)
	v.SetDefault("p2p.listen_addrs", []string{"/ip4/0.0.0.0/tcp/4001"})
	v.SetDefault("p2p.bootstrap_peers", []string{})
	v.SetDefault("p2p.enable_nat", false)

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.listen_addr", "127.0.0.1:9090")
	v.SetDefault("admin.enable_cors", false)
	v.SetDefault("admin.rate_limit", 20.0)
	v.SetDefault("admin.rate_burst", 40)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}
