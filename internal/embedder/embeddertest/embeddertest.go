// Package embeddertest provides a scripted embedder for tests.
package embeddertest

import (
	"context"
	"sync"

	"github.com/dshills/catalog-mcp/internal/embedder"
)

// Static returns fixed vectors per text. Texts without an entry get
// Default, or an error when Default is nil. Err, when set, fails every
// call. Block makes every call wait for ctx to end.
type Static struct {
	Vectors map[string][]float32
	Default []float32
	Err     error
	Block   bool
	Dim     int

	mu    sync.Mutex
	calls map[string]int
}

// New creates a Static embedder with the given vectors
func New(vectors map[string][]float32) *Static {
	return &Static{Vectors: vectors, Dim: 3}
}

// Calls returns how often text was embedded
func (s *Static) Calls(text string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[text]
}

// TotalCalls returns the number of embedding calls made
func (s *Static) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *Static) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[req.Text]++
	s.mu.Unlock()

	if s.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.Err != nil {
		return nil, s.Err
	}
	v, ok := s.Vectors[req.Text]
	if !ok {
		v = s.Default
	}
	if v == nil {
		return nil, embedder.ErrProviderFailed
	}
	return &embedder.Embedding{
		Vector:    v,
		Dimension: len(v),
		Provider:  "static",
		Model:     "static",
		Hash:      embedder.ComputeHash(req.Text),
	}, nil
}

func (s *Static) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	out := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := s.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: out, Provider: "static", Model: "static"}, nil
}

func (s *Static) Dimension() int   { return s.Dim }
func (s *Static) Provider() string { return "static" }
func (s *Static) Model() string    { return "static" }
func (s *Static) Close() error     { return nil }
