// Package embedder turns query text and catalog rows into vectors.
//
// Three providers implement Embedder:
//
//   - ollama: POST {host}/api/embeddings, one prompt per request
//   - openai: POST /v1/embeddings, batched
//   - local: offline hashing-trick vectors for development and tests
//
// Remote providers retry with exponential backoff, bound every call by the
// configured timeout and cache vectors in an LRU keyed by the SHA-256 of
// the text. Every provider failure wraps types.ErrEmbeddingUnavailable:
//
//	vec, err := embedder.Vector(ctx, emb, "bàn làm việc gỗ sồi")
//	if errors.Is(err, types.ErrEmbeddingUnavailable) {
//	    // skip the vector-based tier
//	}
package embedder
