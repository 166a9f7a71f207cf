package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "docs/index.json", cfg.Index.SnapshotPath)
	assert.Equal(t, 20, cfg.Search.MaxResults)
	assert.Equal(t, 100, cfg.Search.MaxQueryLength)
	assert.Equal(t, "command", cfg.Tagger.Mode)
	assert.Contains(t, cfg.Tagger.Command, "text={text}")
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
index:
  sourceDir: /data/csv
  workers: 4
tagger:
  mode: llm
  host: http://llm:8000/v1
  model: qwen
  timeout: 5s
redis:
  enabled: true
server:
  allowOrigins: ["https://example.github.io"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("MB_INDEX_WORKERS", "8")
	t.Setenv("MB_REDIS_ADDR", "cache:6379")
	t.Setenv("MB_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/csv", cfg.Index.SourceDir)
	assert.Equal(t, 8, cfg.Index.Workers)
	assert.Equal(t, "llm", cfg.Tagger.Mode)
	assert.Equal(t, 5*time.Second, cfg.Tagger.Timeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"https://example.github.io"}, cfg.Server.AllowOrigins)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no snapshot path", func(c *Config) { c.Index.SnapshotPath = "" }},
		{"zero workers", func(c *Config) { c.Index.Workers = 0 }},
		{"unknown tagger mode", func(c *Config) { c.Tagger.Mode = "magic" }},
		{"command mode without argv", func(c *Config) { c.Tagger.Command = nil }},
		{"llm mode without model", func(c *Config) { c.Tagger.Mode = "llm"; c.Tagger.Model = "" }},
		{"zero max results", func(c *Config) { c.Search.MaxResults = 0 }},
		{"negative rate limit", func(c *Config) { c.Server.RateLimitPerMinute = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Tagger.Mode = "none"
	cfg.Tagger.Command = nil
	assert.NoError(t, cfg.Validate())
}

func TestPostgresDSN(t *testing.T) {
	p := Default().Postgres
	assert.Equal(t, "host=localhost port=5432 user=bulletin password=localdev dbname=bulletin sslmode=disable", p.DSN())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
