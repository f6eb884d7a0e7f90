package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/catalog-mcp/pkg/types"
)

// Provider failures wrap types.ErrEmbeddingUnavailable so callers can skip
// the retrieval tier that needed the vector.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = fmt.Errorf("embedding provider failed: %w", types.ErrEmbeddingUnavailable)
	ErrUnsupportedModel  = errors.New("unsupported embedding provider")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedding is one vector and where it came from
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // SHA-256 of the embedded text
}

type EmbeddingRequest struct {
	Text  string
	Model string // empty uses the provider default
}

type BatchEmbeddingRequest struct {
	Texts []string
	Model string
}

// BatchEmbeddingResponse holds one embedding per request text, in order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder turns query text and catalog descriptions into vectors.
// Dimension must match the vector columns the store was opened with.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)
	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// Vector embeds text and returns the raw vector. It is the call used by
// the search tiers.
func Vector(ctx context.Context, e Embedder, text string) ([]float32, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmbeddingUnavailable, ErrNoProviderEnabled)
	}
	emb, err := e.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
	if err != nil {
		if !errors.Is(err, types.ErrEmbeddingUnavailable) {
			err = fmt.Errorf("%w: %v", types.ErrEmbeddingUnavailable, err)
		}
		return nil, err
	}
	if len(emb.Vector) == 0 {
		return nil, fmt.Errorf("%w: empty vector", types.ErrEmbeddingUnavailable)
	}
	return emb.Vector, nil
}

// embedOne runs a single text through the provider's batch path
func embedOne(ctx context.Context, e Embedder, req EmbeddingRequest) (*Embedding, error) {
	resp, err := e.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// Cache is an LRU of vectors keyed by model and text. A nil *Cache is a
// valid cache that never hits.
type Cache struct {
	entries *lru.Cache[string, []float32]
}

const defaultCacheSize = 10000

func NewCache(size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New[string, []float32](size)
	if err != nil {
		entries, _ = lru.New[string, []float32](defaultCacheSize)
	}
	return &Cache{entries: entries}
}

func cacheKey(model, text string) string {
	return model + "\x00" + ComputeHash(text)
}

// Lookup returns a copy of the cached vector
func (c *Cache) Lookup(model, text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.entries.Get(cacheKey(model, text))
	if !ok {
		return nil, false
	}
	return append([]float32(nil), v...), true
}

func (c *Cache) Store(model, text string, v []float32) {
	if c == nil || len(v) == 0 {
		return
	}
	c.entries.Add(cacheKey(model, text), append([]float32(nil), v...))
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

func (c *Cache) Purge() {
	if c != nil {
		c.entries.Purge()
	}
}

// ComputeHash is the hex SHA-256 of text
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// checkTexts rejects empty batches, oversized batches and blank texts
func checkTexts(texts []string) error {
	switch {
	case len(texts) == 0:
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	case len(texts) > MaxBatchSize:
		return fmt.Errorf("%w: %d texts, max %d", ErrBatchTooLarge, len(texts), MaxBatchSize)
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w (index %d)", ErrEmptyText, i)
		}
	}
	return nil
}

// batchFunc embeds texts that missed the cache
type batchFunc func(ctx context.Context, texts []string, model string) ([]*Embedding, error)

// cachedBatch answers hits from cache and sends only the misses to fetch,
// retrying per retry. Fetched vectors are stored under the requested model.
func cachedBatch(ctx context.Context, cache *Cache, retry RetryConfig, provider, model string, texts []string, fetch batchFunc) ([]*Embedding, error) {
	out := make([]*Embedding, len(texts))
	var misses []string
	var slots []int
	for i, text := range texts {
		if v, ok := cache.Lookup(model, text); ok {
			out[i] = &Embedding{Vector: v, Dimension: len(v), Provider: provider, Model: model, Hash: ComputeHash(text)}
			continue
		}
		misses = append(misses, text)
		slots = append(slots, i)
	}
	if len(misses) == 0 {
		return out, nil
	}

	fetched, err := retryWithBackoff(ctx, retry, func() ([]*Embedding, error) {
		return fetch(ctx, misses, model)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}
	if len(fetched) != len(misses) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(fetched), len(misses))
	}

	for j, emb := range fetched {
		emb.Hash = ComputeHash(misses[j])
		cache.Store(model, misses[j], emb.Vector)
		out[slots[j]] = emb
	}
	return out, nil
}
