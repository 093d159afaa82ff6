package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100, cfg.Retry.BaseDelayMs)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.0001)
	assert.Equal(t, 5000, cfg.Retry.MaxDelayMs)
	assert.Equal(t, 30*time.Minute, cfg.Cache.PermissionTTL())
	assert.Equal(t, 30*time.Second, cfg.Database.StatementTimeout())
	assert.False(t, cfg.Debug)
	assert.False(t, cfg.Auth.TokenExchange)
	assert.Zero(t, cfg.ReloadInterval())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "procgate.yaml")
	content := []byte(`
server:
  port: 9090
debug: true
database:
  driver: postgres
  port: 5432
retry:
  max_attempts: 5
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("PROCGATE_CACHE_DRIVER", "redis")
	t.Setenv("PROCGATE_RETRY_BASE_DELAY_MS", "250")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, 250, cfg.Retry.BaseDelayMs)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_RejectsUnknownDriver(t *testing.T) {
	cfg := &Config{
		Database:    DatabaseConfig{Driver: "oracle"},
		Cache:       CacheConfig{Driver: "memory"},
		Retry:       RetryConfig{MaxAttempts: 3, Multiplier: 2},
		Transaction: TransactionConfig{MaxAttempts: 3},
	}
	assert.Error(t, cfg.Validate())

	cfg.Database.Driver = "mysql"
	assert.NoError(t, cfg.Validate())
}

func TestDSN(t *testing.T) {
	mysql := DatabaseConfig{Driver: "mysql", User: "u", Password: "p", Host: "db", Port: 3306, Name: "app"}
	assert.Equal(t, "u:p@tcp(db:3306)/app?parseTime=true&loc=UTC", mysql.DSN())

	pg := DatabaseConfig{Driver: "postgres", User: "u", Password: "p", Host: "db", Port: 5432, Name: "app"}
	assert.Equal(t, "postgres://u:p@db:5432/app?sslmode=disable", pg.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Path: "/tmp", Name: "app"}
	assert.Equal(t, "/tmp/app.db", lite.DSN())
}
