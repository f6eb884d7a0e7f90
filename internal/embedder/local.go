package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"unicode"
)

const localModel = "local-hashing"

// LocalProvider is an offline embedder using the hashing trick: each
// lowercase token is hashed into one signed bucket and the result is
// L2-normalized. Texts that share words get a positive cosine similarity,
// which is enough for development and tests.
type LocalProvider struct {
	dimension int
	cache     *Cache
}

func NewLocalProvider(dimension int, cache *Cache) (*LocalProvider, error) {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{dimension: dimension, cache: cache}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return embedOne(ctx, l, req)
}

// GenerateBatch ignores req.Model; there is only one local model.
func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := checkTexts(req.Texts); err != nil {
		return nil, err
	}
	// Hashing cannot fail transiently, so a single attempt.
	embeddings, err := cachedBatch(ctx, l.cache, RetryConfig{MaxRetries: 1}, ProviderLocal, localModel, req.Texts, l.hashAll)
	if err != nil {
		return nil, err
	}
	return &BatchEmbeddingResponse{Embeddings: embeddings, Provider: ProviderLocal, Model: localModel}, nil
}

func (l *LocalProvider) hashAll(ctx context.Context, texts []string, _ string) ([]*Embedding, error) {
	out := make([]*Embedding, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = &Embedding{
			Vector:    hashVector(text, l.dimension),
			Dimension: l.dimension,
			Provider:  ProviderLocal,
			Model:     localModel,
		}
	}
	return out, nil
}

func (l *LocalProvider) Dimension() int   { return l.dimension }
func (l *LocalProvider) Provider() string { return ProviderLocal }
func (l *LocalProvider) Model() string    { return localModel }
func (l *LocalProvider) Close() error     { return nil }

func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		sum := sha256.Sum256([]byte(w))
		bucket := binary.LittleEndian.Uint32(sum[:4]) % uint32(dim)
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		v[bucket] += sign
	}
	return NormalizeVector(v)
}

// NormalizeVector scales v to unit length. Zero vectors are returned as is.
func NormalizeVector(v []float32) []float32 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	if sq == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
