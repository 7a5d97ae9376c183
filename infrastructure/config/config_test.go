package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, "replay", cfg.RestoreMode)
	assert.Equal(t, 24*time.Hour, cfg.SessionMaxAge)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadConfig_FileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topicgrader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
store_backend: badger
badger_dir: /var/lib/topicgrader
scoring_timeout: 3s
session_max_age: 2h
restore_mode: snapshot
`), 0o600))

	t.Setenv(ConfigFileEnv, path)
	t.Setenv("SESSION_MAX_AGE", "30m")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, StoreBadger, cfg.StoreBackend)
	assert.Equal(t, "/var/lib/topicgrader", cfg.BadgerDir)
	assert.Equal(t, 3*time.Second, cfg.ScoringTimeout)
	assert.Equal(t, 30*time.Minute, cfg.SessionMaxAge, "environment wins over the file")
	assert.Equal(t, "snapshot", cfg.RestoreMode)

	dc := cfg.DomainConfig()
	assert.Equal(t, 8, dc.MaxTreeDepth, "production domain profile")
	assert.Equal(t, 30*time.Minute, dc.SessionMaxAge)
	assert.Equal(t, 3*time.Second, dc.ScoringTimeout)
}

func TestLoadConfig_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topicgrader.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"store_backend": "sqlite", "sqlite_dsn": "file::memory:"}`), 0o600))
	t.Setenv(ConfigFileEnv, path)

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, "file::memory:", cfg.SQLiteDSN)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown store", mutate: func(c *Config) { c.StoreBackend = "postgres" }},
		{name: "dynamodb without table", mutate: func(c *Config) { c.StoreBackend = StoreDynamoDB; c.DynamoDBTable = "" }},
		{name: "openai without key", mutate: func(c *Config) { c.ScoringBackend = ScoringOpenAI }},
		{name: "unknown restore mode", mutate: func(c *Config) { c.RestoreMode = "merge" }},
		{name: "zero timeout", mutate: func(c *Config) { c.ScoringTimeout = 0 }},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestLoadConfig_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topicgrader.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o600))
	t.Setenv(ConfigFileEnv, path)

	_, err := LoadConfig()
	assert.Error(t, err)
}
