package types

import "math"

// AlignVector fits v to dim: longer vectors are truncated and shorter ones
// are zero-padded. The input slice is never modified.
func AlignVector(v []float32, dim int) []float32 {
	if dim <= 0 {
		return nil
	}
	out := make([]float32, dim)
	copy(out, v)
	return out
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Vectors of different length or with zero norm score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Norm returns the euclidean length of v
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
