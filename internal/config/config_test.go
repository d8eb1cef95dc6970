package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 800*time.Millisecond, cfg.AutosaveDelay)
	assert.Equal(t, "./db/migrations", cfg.MigrationsDir)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REPORTDESK_STORE", "badger")
	t.Setenv("REPORTDESK_BADGER_PATH", "/tmp/reports")
	t.Setenv("REPORTDESK_AUTOSAVE_DELAY", "2s")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreBadger, cfg.Store)
	assert.Equal(t, "/tmp/reports", cfg.BadgerPath)
	assert.Equal(t, 2*time.Second, cfg.AutosaveDelay)
	assert.True(t, cfg.MinioUseSSL)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reportdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: redis\nredis_url: redis://cache:6379/1\naddr: \":9000\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, ":9000", cfg.Addr)
}

func TestValidate(t *testing.T) {
	base := Config{Store: StorePostgres, DatabaseURL: "postgres://x", AutosaveDelay: time.Second}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store = "sqlite" }},
		{"zero delay", func(c *Config) { c.AutosaveDelay = 0 }},
		{"missing dsn", func(c *Config) { c.DatabaseURL = "" }},
		{"minio without bucket", func(c *Config) { c.MinioEndpoint = "localhost:9000"; c.MinioBucket = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
