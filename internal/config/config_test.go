package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/catalog-mcp/pkg/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Search.TopK)
	assert.Equal(t, 20*time.Second, cfg.Search.HybridTimeout)
	assert.Equal(t, 0.35, cfg.Search.MinSimilarity)
	assert.Equal(t, 0.6, cfg.Search.StrongSimilarity)
	assert.Equal(t, 0.5, cfg.Search.MinMatchRatio)
	assert.Equal(t, 0.85, cfg.Feedback.SimilarityThreshold)
	assert.Equal(t, 10, cfg.Feedback.HistoryWindow)
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.False(t, cfg.Expansion.Enabled)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := `
database:
  driver: postgres
  postgres:
    dsn: postgres://localhost/catalog?sslmode=disable
embedding:
  provider: local
  dimension: 64
search:
  top_k: 5
  hybrid_timeout: 3s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/catalog?sslmode=disable", cfg.DatabaseDSN())
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 64, cfg.Embedding.Dimension)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.Equal(t, 3*time.Second, cfg.Search.HybridTimeout)
	// untouched keys keep their defaults
	assert.Equal(t, 0.35, cfg.Search.MinSimilarity)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite:/tmp/override.db")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("CATALOG_EMBEDDING_PROVIDER", "LOCAL")
	t.Setenv("CATALOG_EMBEDDING_DIMENSION", "32")
	t.Setenv("CATALOG_EXPANSION_HOST", "http://llm:11434")
	t.Setenv("CATALOG_HYBRID_TIMEOUT", "5s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.DatabaseDSN())
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 32, cfg.Embedding.Dimension)
	assert.True(t, cfg.Expansion.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Search.HybridTimeout)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"ollama without host", func(c *Config) { c.Embedding.Host = "" }},
		{"openai without key", func(c *Config) { c.Embedding.Provider = "openai" }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "jina" }},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }},
		{"expansion without host", func(c *Config) { c.Expansion.Enabled = true; c.Expansion.Host = "" }},
		{"top_k out of range", func(c *Config) { c.Search.TopK = 0 }},
		{"threshold above one", func(c *Config) { c.Search.MinSimilarity = 1.5 }},
		{"empty history window", func(c *Config) { c.Feedback.HistoryWindow = 0 }},
		{"unknown cache driver", func(c *Config) { c.Cache.Driver = "memcached" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}
