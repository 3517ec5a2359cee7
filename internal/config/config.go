package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DevSessionSecret is the fallback signing secret. Deployments must
// override it; main logs a warning when it is still in use.
const DevSessionSecret = "tabsplit-dev-secret"

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Session    SessionConfig
	Extraction ExtractionConfig
	Reconcile  ReconcileConfig
	Allocator  AllocatorConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port    string
	BaseURL string
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	Backend      string // "sqlite" or "postgres"
	SQLitePath   string
	PostgresDSN  string
	PoolMaxConns int32
}

// SessionConfig holds viewer session signing configuration.
type SessionConfig struct {
	Secret string
	TTL    time.Duration
}

// ExtractionConfig holds the receipt OCR service configuration.
// Extraction is optional; receipts can also be entered by hand.
type ExtractionConfig struct {
	APIURL string
	APIKey string
}

// ReconcileConfig tunes the balance corrector.
type ReconcileConfig struct {
	TipFloorCents int64
	MaxPasses     int
}

// AllocatorConfig tunes claim submission retries.
type AllocatorConfig struct {
	MaxRetries int
}

// Load reads configuration from an optional YAML file and TABSPLIT_*
// environment variables. An explicit configPath must exist; otherwise a
// missing config.yaml is fine and defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("Server.Port", "8080")
	v.SetDefault("Server.BaseURL", "http://localhost:8080")

	v.SetDefault("Storage.Backend", "sqlite")
	v.SetDefault("Storage.SQLitePath", "./data/tabsplit.db")
	v.SetDefault("Storage.PoolMaxConns", 10)

	v.SetDefault("Session.Secret", DevSessionSecret)
	v.SetDefault("Session.TTL", "72h")

	v.SetDefault("Reconcile.TipFloorCents", -2000)
	v.SetDefault("Reconcile.MaxPasses", 2)

	v.SetDefault("Allocator.MaxRetries", 3)

	v.SetEnvPrefix("TABSPLIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tabsplit")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlitepath is required for the sqlite backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgresdsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("session.secret must not be empty")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.Reconcile.MaxPasses < 1 {
		return fmt.Errorf("reconcile.maxpasses must be at least 1")
	}
	return nil
}
