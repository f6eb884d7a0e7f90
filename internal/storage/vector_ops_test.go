package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/catalog-mcp/pkg/types"
)

func TestSerializeVector(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	blob := SerializeVector(v)
	assert.Len(t, blob, 12)
	assert.Equal(t, v, DeserializeVector(blob))
	assert.Nil(t, DeserializeVector(nil))
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[1,-0.5,2.25]", toVectorLiteral([]float32{1, -0.5, 2.25}))

	tests := []struct {
		in      string
		want    []float32
		wantErr bool
	}{
		{"[1,2,3]", []float32{1, 2, 3}, false},
		{" [0.5, -1] ", []float32{0.5, -1}, false},
		{"[]", []float32{}, false},
		{"", nil, false},
		{"1,2,3", nil, true},
		{"[1,x]", nil, true},
	}
	for _, tt := range tests {
		got, err := parseVectorLiteral(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSimilarityToAlignsQuery(t *testing.T) {
	stored := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, similarityTo([]float32{1, 0, 0, 9}, stored), 1e-9)
	assert.InDelta(t, 1.0, similarityTo([]float32{1}, stored), 1e-9)
	assert.Zero(t, similarityTo(nil, stored))
	assert.Zero(t, similarityTo([]float32{1}, nil))
}

func TestRankBySimilarity(t *testing.T) {
	entities := []types.Entity{
		{Code: "a", Vector: []float32{0, 1}},
		{Code: "b", Vector: []float32{1, 0}},
		{Code: "c"},
		{Code: "d", Vector: []float32{1, 0}},
	}
	got := rankBySimilarity(entities, []float32{1, 0}, 2)
	require.Len(t, got, 2)
	// equal scores keep input order
	assert.Equal(t, "b", got[0].Entity.Code)
	assert.Equal(t, "d", got[1].Entity.Code)

	got = rankBySimilarity(entities, []float32{1, 0}, 0)
	assert.Len(t, got, 3)
}
