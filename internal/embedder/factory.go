package embedder

import (
	"fmt"
	"strings"

	"github.com/dshills/catalog-mcp/internal/config"
)

// New creates the embedder selected by cfg.Provider
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama:
		return NewOllamaProvider(cfg.Host, cfg.Model, cfg.Dimension, cfg.Timeout, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Timeout, cache)
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, cfg.Provider)
	}
}
