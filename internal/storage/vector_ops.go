package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/catalog-mcp/pkg/types"
)

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// toVectorLiteral renders a vector in pgvector text form: [a,b,c]
func toVectorLiteral(vector []float32) string {
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVectorLiteral parses the pgvector text form back into a slice
func parseVectorLiteral(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("invalid vector literal %q", truncate(s, 32))
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return []float32{}, nil
	}
	fields := strings.Split(body, ",")
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

// similarityTo aligns the query to the stored vector's dimension before
// scoring. A stored vector of a different length than the query is not an
// error; the query is truncated or zero-padded.
func similarityTo(query, stored []float32) float64 {
	if len(stored) == 0 || len(query) == 0 {
		return 0
	}
	if len(query) != len(stored) {
		query = types.AlignVector(query, len(stored))
	}
	return types.CosineSimilarity(query, stored)
}

// rankBySimilarity scores entities against the query and returns the top
// limit by descending similarity. Entities without vectors are skipped.
func rankBySimilarity(entities []types.Entity, query []float32, limit int) []ScoredEntity {
	scored := make([]ScoredEntity, 0, len(entities))
	for _, e := range entities {
		if !e.HasVector() {
			continue
		}
		scored = append(scored, ScoredEntity{Entity: e, Similarity: similarityTo(query, e.Vector)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}
