package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config binds the environment variables recognized by the ledger core
// (spec.md §6 "Environment configuration").
type Config struct {
	Env string `env:"QV_ENV" envDefault:"dev"`

	HTTPAddr   string `env:"PORT" envDefault:"8080"`
	APIPrefix  string `env:"API_PREFIX" envDefault:"/api"`
	CORSOrigin string `env:"QV_CORS_ORIGIN" envDefault:""`
	NetworkID  string `env:"NETWORK_ID" envDefault:"clinical-ledger-dev"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:""`
	DataRoot    string `env:"DATA_ROOT" envDefault:""`

	AuditRetentionDays int   `env:"AUDIT_RETENTION_DAYS" envDefault:"0"`
	AuditLogMaxBytes   int64 `env:"AUDIT_LOG_MAX_BYTES" envDefault:"0"`

	WalletNonceTTLSeconds int `env:"WALLET_NONCE_TTL_SECONDS" envDefault:"300"`

	DemoExternalSignerAddress string `env:"DEMO_EXTERNAL_SIGNER_ADDRESS" envDefault:""`

	VaultAddr  string `env:"QV_VAULT_ADDR" envDefault:""`
	VaultToken string `env:"QV_VAULT_TOKEN" envDefault:""`
}

// WalletNonceTTL is the configured TTL as a time.Duration.
func (c Config) WalletNonceTTL() time.Duration {
	return time.Duration(c.WalletNonceTTLSeconds) * time.Second
}

// Addr returns the net/http listen address derived from PORT. A bare port
// number (the common case, e.g. "8080") is turned into ":8080"; a value
// that already looks like a host:port pair is used as-is.
func (c Config) Addr() string {
	if strings.Contains(c.HTTPAddr, ":") {
		return c.HTTPAddr
	}
	return ":" + c.HTTPAddr
}

// Load parses environment variables into a Config and validates the
// mutually-exclusive storage backend selection.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.DatabaseURL == "" && cfg.DataRoot == "" {
		return Config{}, errors.New("config: one of DATABASE_URL or DATA_ROOT is required")
	}
	if cfg.DatabaseURL != "" && cfg.DataRoot != "" {
		return Config{}, errors.New("config: DATABASE_URL and DATA_ROOT are mutually exclusive")
	}
	return cfg, nil
}
