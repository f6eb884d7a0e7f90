// Package config loads catalog-mcp configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/catalog-mcp/pkg/types"
)

// Config holds all configuration for catalog-mcp.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Expansion     ExpansionConfig     `yaml:"expansion"`
	Search        SearchConfig        `yaml:"search"`
	Feedback      FeedbackConfig      `yaml:"feedback"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DatabaseConfig selects and configures the entity store.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // ollama, openai or local
	Host      string        `yaml:"host"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"api_key"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheSize int           `yaml:"cache_size"`
}

// ExpansionConfig holds query expansion settings.
type ExpansionConfig struct {
	Enabled bool          `yaml:"enabled"`
	Host    string        `yaml:"host"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// SearchConfig holds retrieval thresholds and limits.
type SearchConfig struct {
	TopK               int           `yaml:"top_k"`
	HybridTimeout      time.Duration `yaml:"hybrid_timeout"`
	MinSimilarity      float64       `yaml:"min_similarity"`
	StrongSimilarity   float64       `yaml:"strong_similarity"`
	MinMatchRatio      float64       `yaml:"min_match_ratio"`
	KeywordLimitProd   int           `yaml:"keyword_limit_product"`
	KeywordLimitMat    int           `yaml:"keyword_limit_material"`
	SampleSize         int           `yaml:"sample_size"`
	CrossSeedMaterials int           `yaml:"cross_seed_materials"`
	CrossSeedProducts  int           `yaml:"cross_seed_products"`
}

// FeedbackConfig holds personalization settings.
type FeedbackConfig struct {
	HistoryWindow       int     `yaml:"history_window"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxSimilarQueries   int     `yaml:"max_similar_queries"`
	QueueSize           int     `yaml:"queue_size"`
}

// CacheConfig holds the key-value store used for session suggestions.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with the production retrieval
// thresholds and a local SQLite store.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:   "sqlite",
			SQLite:   SQLiteConfig{Path: "catalog.db"},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Host:      "http://localhost:11434",
			Model:     "qwen3-embedding",
			Dimension: 1024,
			Timeout:   30 * time.Second,
			CacheSize: 10000,
		},
		Expansion: ExpansionConfig{
			Enabled: false,
			Host:    "http://localhost:11434",
			Model:   "qwen2.5",
			Timeout: 10 * time.Second,
		},
		Search: SearchConfig{
			TopK:               10,
			HybridTimeout:      20 * time.Second,
			MinSimilarity:      0.35,
			StrongSimilarity:   0.6,
			MinMatchRatio:      0.5,
			KeywordLimitProd:   12,
			KeywordLimitMat:    15,
			SampleSize:         10,
			CrossSeedMaterials: 5,
			CrossSeedProducts:  10,
		},
		Feedback: FeedbackConfig{
			HistoryWindow:       10,
			SimilarityThreshold: 0.85,
			MaxSimilarQueries:   20,
			QueueSize:           256,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        30 * time.Minute,
			MaxEntries: 10000,
			Redis:      RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "catalog:",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "catalog-mcp",
		},
	}
}

// Validate checks the configuration for errors. All failures wrap
// types.ErrConfiguration.
func (c *Config) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", types.ErrConfiguration, fmt.Sprintf(format, args...))
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fail("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.DSN == "" {
			return fail("database.postgres.dsn is required")
		}
	default:
		return fail("invalid database driver: %s", c.Database.Driver)
	}

	switch c.Embedding.Provider {
	case "ollama":
		if c.Embedding.Host == "" {
			return fail("embedding.host is required for ollama")
		}
	case "openai":
		if c.Embedding.APIKey == "" {
			return fail("embedding.api_key is required for openai")
		}
	case "local":
	default:
		return fail("invalid embedding provider: %s", c.Embedding.Provider)
	}
	if c.Embedding.Dimension <= 0 {
		return fail("embedding.dimension must be positive")
	}

	if c.Expansion.Enabled && c.Expansion.Host == "" {
		return fail("expansion.host is required when expansion is enabled")
	}

	if c.Search.TopK < 1 || c.Search.TopK > 100 {
		return fail("search.top_k must be between 1 and 100")
	}
	for name, v := range map[string]float64{
		"search.min_similarity":         c.Search.MinSimilarity,
		"search.strong_similarity":      c.Search.StrongSimilarity,
		"search.min_match_ratio":        c.Search.MinMatchRatio,
		"feedback.similarity_threshold": c.Feedback.SimilarityThreshold,
	} {
		if v < 0 || v > 1 {
			return fail("%s must be within [0,1]", name)
		}
	}
	if c.Feedback.HistoryWindow < 1 {
		return fail("feedback.history_window must be positive")
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fail("invalid cache driver: %s", c.Cache.Driver)
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("CATALOG_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("CATALOG_EMBEDDING_HOST"); v != "" {
		cfg.Embedding.Host = v
	}
	if v := os.Getenv("CATALOG_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("CATALOG_EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimension = n
		}
	}

	if v := os.Getenv("CATALOG_EXPANSION_HOST"); v != "" {
		cfg.Expansion.Host = v
		cfg.Expansion.Enabled = true
	}

	if v := os.Getenv("CATALOG_HYBRID_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Search.HybridTimeout = d
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
	if v := os.Getenv("CATALOG_METRICS_ADDR"); v != "" {
		cfg.Observability.MetricsAddr = v
	}
}
