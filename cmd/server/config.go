package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/org/envvault/internal/ledger"
	"github.com/org/envvault/internal/pagination"
)

type storageConfig struct {
	Driver        string `yaml:"driver"`
	DBUrl         string `yaml:"db_url"`
	SQLitePath    string `yaml:"sqlite_path"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type rotationConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type rateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type config struct {
	ListenAddr  string            `yaml:"listen_addr"`
	TLSCertFile string            `yaml:"tls_cert"`
	TLSKeyFile  string            `yaml:"tls_key"`
	LogLevel    string            `yaml:"log_level"`
	MasterKey   string            `yaml:"master_key"`
	Bootstrap   bool              `yaml:"bootstrap_root_token"`
	Storage     storageConfig     `yaml:"storage"`
	Pagination  pagination.Config `yaml:"pagination"`
	Ledger      ledger.Config     `yaml:"ledger"`
	Rotation    rotationConfig    `yaml:"rotation"`
	RateLimit   rateLimitConfig   `yaml:"rate_limit"`
}

func defaultConfig() config {
	return config{
		ListenAddr: ":8300",
		LogLevel:   "info",
		Storage: storageConfig{
			Driver:        "postgres",
			SQLitePath:    "envvault.db",
			MigrationsDir: "migrations",
		},
		Pagination: pagination.DefaultConfig(),
		Ledger:     ledger.DefaultConfig(),
		Rotation:   rotationConfig{PollInterval: time.Minute},
		RateLimit:  rateLimitConfig{RequestsPerSecond: 100, Burst: 200},
	}
}

// loadConfig reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func loadConfig(path string, getenv func(string) string) (config, bool, error) {
	cfg := defaultConfig()
	found := false
	if data, err := os.ReadFile(path); err == nil {
		found = true
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return config{}, true, fmt.Errorf("parsing %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return config{}, false, fmt.Errorf("reading %s: %w", path, err)
	}

	if v := getenv("ENVVAULT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DBUrl = v
	}
	if v := getenv("ENVVAULT_STORAGE"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := getenv("ENVVAULT_MASTER_KEY"); v != "" {
		cfg.MasterKey = v
	}
	return cfg, found, cfg.validate()
}

func (c config) validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DBUrl == "" {
			return fmt.Errorf("storage.db_url must be configured (or DATABASE_URL env var)")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be configured")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver %q (postgres, sqlite or memory)", c.Storage.Driver)
	}
	if c.Pagination.DefaultLimit <= 0 || c.Pagination.MaxLimit < c.Pagination.DefaultLimit {
		return fmt.Errorf("pagination limits must satisfy 0 < default_limit <= max_limit")
	}
	if c.Ledger.MaxRetries < 0 {
		return fmt.Errorf("ledger.max_retries must not be negative")
	}
	if c.Rotation.PollInterval <= 0 {
		return fmt.Errorf("rotation.poll_interval must be positive")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	return nil
}
