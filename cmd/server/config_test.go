package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, found, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), env(map[string]string{
		"DATABASE_URL": "postgres://localhost/envvault",
	}))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, ":8300", cfg.ListenAddr)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 20, cfg.Pagination.DefaultLimit)
	assert.Equal(t, 100, cfg.Pagination.MaxLimit)
	assert.Equal(t, 5, cfg.Ledger.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, cfg.Ledger.RetryBaseDelay)
	assert.Equal(t, time.Minute, cfg.Rotation.PollInterval)
}

func TestLoadConfigFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9000"
log_level: debug
storage:
  driver: sqlite
  sqlite_path: /var/lib/envvault/data.db
pagination:
  default_limit: 10
  max_limit: 50
ledger:
  max_retries: 8
  retry_base_delay: 25ms
rotation:
  poll_interval: 30s
`), 0o600))

	cfg, found, err := loadConfig(path, env(map[string]string{
		"ENVVAULT_LISTEN_ADDR": ":9100",
		"ENVVAULT_MASTER_KEY":  "a2V5",
	}))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/envvault/data.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "migrations", cfg.Storage.MigrationsDir)
	assert.Equal(t, 50, cfg.Pagination.MaxLimit)
	assert.Equal(t, 8, cfg.Ledger.MaxRetries)
	assert.Equal(t, 25*time.Millisecond, cfg.Ledger.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Rotation.PollInterval)
	assert.Equal(t, "a2V5", cfg.MasterKey)
}

func TestLoadConfigValidation(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"postgres without url": "storage:\n  driver: postgres\n",
		"unknown driver":       "storage:\n  driver: mysql\n",
		"limits inverted":      "storage:\n  driver: memory\npagination:\n  default_limit: 50\n  max_limit: 10\n",
		"half tls":             "storage:\n  driver: memory\ntls_cert: cert.pem\n",
		"bad yaml":             "storage: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "c.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, _, err := loadConfig(path, env(nil))
			assert.Error(t, err)
		})
	}

	_, _, err := loadConfig(filepath.Join(dir, "none.yaml"), env(map[string]string{"ENVVAULT_STORAGE": "memory"}))
	assert.NoError(t, err)
}
