package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: \":9000\"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.NotEmpty(t, cfg.Database.URL)
	assert.Equal(t, 90, cfg.Retention.DataRetentionDays)
	assert.Equal(t, 180, cfg.Retention.AnonymizationDays)
	assert.Equal(t, 5, cfg.Statistics.MaxRetries)
	assert.Equal(t, int64(16*1024), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 90*24*time.Hour, cfg.RetentionAge())
	assert.Equal(t, 180*24*time.Hour, cfg.AnonymizationAge())
	assert.Equal(t, time.Hour, cfg.SweepInterval())
}

func TestLoadConfigExpandsEnvironment(t *testing.T) {
	t.Setenv("PG_URL", "postgres://scan:secret@db/phishguard?sslmode=disable")
	path := writeConfig(t, "database:\n  driver: postgres\n  url: ${PG_URL}\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://scan:secret@db/phishguard?sslmode=disable", cfg.Database.URL)
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: mysql\n  url: root@/x\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestLoadConfigTrustedProxies(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "log:\n  level: info\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.TrustedProxies)

	cfg, err = LoadConfig(writeConfig(t, "server:\n  trusted_proxies: [\"10.0.0.1\", \"172.16.0.0/12\"]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "172.16.0.0/12"}, cfg.Server.TrustedProxies)

	_, err = LoadConfig(writeConfig(t, "server:\n  trusted_proxies: [\"proxy.local\"]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trusted_proxies")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.Log.Level = "debug"
	cfg.Log.Development = true

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	cfg.Log.Level = "loud"
	_, err = NewLogger(cfg)
	assert.Error(t, err)
}
