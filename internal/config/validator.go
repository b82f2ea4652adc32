package config

import (
	"errors"
	"fmt"

	"github.com/ZentaChain/qight/pkg/logging"
	"github.com/ZentaChain/qight/pkg/storage"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, validateRelay(c.Relay)...)
	errs = append(errs, validateTLS(c.TLS)...)
	errs = append(errs, validateStore(c.Store)...)
	errs = append(errs, validateP2P(c.P2P)...)
	errs = append(errs, validateAdmin(c.Admin)...)

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, &ValidationError{Field: "logging.level", Message: err.Error()})
	}

	return errors.Join(errs...)
}

func validateRelay(cfg RelayConfig) []error {
	var errs []error

	if cfg.ListenAddr == "" {
		errs = append(errs, &ValidationError{Field: "relay.listen_addr", Message: "listen address is required"})
	}
	if cfg.ALPN == "" {
		errs = append(errs, &ValidationError{Field: "relay.alpn", Message: "ALPN is required"})
	}
	if cfg.MaxPayloadBytes == 0 {
		errs = append(errs, &ValidationError{Field: "relay.max_payload_bytes", Message: "must be positive"})
	}
	if cfg.MaxCommandLineBytes <= 0 {
		errs = append(errs, &ValidationError{Field: "relay.max_command_line_bytes", Message: "must be positive"})
	}
	if cfg.MaxIncomingStreams <= 0 {
		errs = append(errs, &ValidationError{Field: "relay.max_incoming_streams", Message: "must be positive"})
	}
	if cfg.MaxIdleTimeout <= 0 {
		errs = append(errs, &ValidationError{Field: "relay.max_idle_timeout", Message: "must be positive"})
	}
	return errs
}

func validateTLS(cfg TLSConfig) []error {
	var errs []error

	if cfg.CertPath == "" {
		errs = append(errs, &ValidationError{Field: "tls.cert_path", Message: "certificate path is required"})
	}
	if cfg.KeyPath == "" {
		errs = append(errs, &ValidationError{Field: "tls.key_path", Message: "key path is required"})
	}
	if len(cfg.Hosts) == 0 {
		errs = append(errs, &ValidationError{Field: "tls.hosts", Message: "at least one host is required"})
	}
	return errs
}

func validateStore(cfg StoreConfig) []error {
	var errs []error

	switch cfg.Backend {
	case storage.BackendMemory, storage.BackendSQLite:
	default:
		errs = append(errs, &ValidationError{
			Field:   "store.backend",
			Message: fmt.Sprintf("must be %q or %q, got %q", storage.BackendMemory, storage.BackendSQLite, cfg.Backend),
		})
	}
	if cfg.MaxQueueLen < 0 {
		errs = append(errs, &ValidationError{Field: "store.max_queue_len", Message: "must not be negative"})
	}
	if cfg.PurgeInterval < 0 {
		errs = append(errs, &ValidationError{Field: "store.purge_interval", Message: "must not be negative"})
	}
	return errs
}

func validateP2P(cfg P2PConfig) []error {
	if cfg.Enabled && len(cfg.ListenAddrs) == 0 {
		return []error{&ValidationError{Field: "p2p.listen_addrs", Message: "required when p2p is enabled"}}
	}
	return nil
}

func validateAdmin(cfg AdminConfig) []error {
	var errs []error

	if cfg.Enabled && cfg.ListenAddr == "" {
		errs = append(errs, &ValidationError{Field: "admin.listen_addr", Message: "required when the admin API is enabled"})
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, &ValidationError{Field: "admin.rate_limit", Message: "must not be negative"})
	}
	return errs
}
