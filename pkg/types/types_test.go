package types

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestPrice(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"empty string", "", 0},
		{"null", "null", 0},
		{"empty list", "[]", 0},
		{"malformed", `[{"date":`, 0},
		{"wrong shape", `{"price": 5}`, 0},
		{"single entry", `[{"date":"2024-03-01","price":42.5}]`, 42.5},
		{
			"unordered entries",
			`[{"date":"2024-06-01","price":12},{"date":"2023-01-01","price":9},{"date":"2024-01-15","price":11}]`,
			12,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LatestPrice(tt.raw))
		})
	}
}

func TestPriceHistory_JSONRoundTrip(t *testing.T) {
	h := PriceHistory{{Date: "2024-01-01", Price: 3}, {Date: "2024-02-01", Price: 4}}
	parsed, err := ParsePriceHistory(h.JSON())
	require.NoError(t, err)
	assert.Equal(t, 4.0, parsed.Latest())
	assert.Equal(t, "[]", PriceHistory(nil).JSON())
}

func TestAlignVector(t *testing.T) {
	t.Run("pads shorter vectors with zeros", func(t *testing.T) {
		assert.Equal(t, []float32{1, 2, 3, 0, 0}, AlignVector([]float32{1, 2, 3}, 5))
	})

	t.Run("truncates longer vectors", func(t *testing.T) {
		assert.Equal(t, []float32{1, 2, 3, 4}, AlignVector([]float32{1, 2, 3, 4, 5, 6}, 4))
	})

	t.Run("does not alias the input", func(t *testing.T) {
		in := []float32{1, 2}
		out := AlignVector(in, 2)
		out[0] = 9
		assert.Equal(t, float32(1), in[0])
	})
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.2))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 0.4, Clamp01(0.4))
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
}

func TestParseEntityKind(t *testing.T) {
	for in, want := range map[string]EntityKind{
		"product":   KindProduct,
		"Products":  KindProduct,
		"":          KindProduct,
		"material":  KindMaterial,
		"MATERIALS": KindMaterial,
	} {
		got, err := ParseEntityKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseEntityKind("supplier")
	assert.ErrorIs(t, err, ErrInvalidEntityKind)
}

func TestInteractionEvent_Validate(t *testing.T) {
	ev := InteractionEvent{SessionID: "s1", EntityCode: "B001", Type: InteractionView}
	require.NoError(t, ev.Validate())

	ev.Type = "like"
	assert.ErrorIs(t, ev.Validate(), ErrInvalidInteraction)

	ev.Type = InteractionReject
	ev.SessionID = " "
	assert.ErrorIs(t, ev.Validate(), ErrMissingSession)

	assert.Equal(t, 1.0, InteractionView.Weight())
	assert.Equal(t, -1.0, InteractionReject.Weight())
}

func TestSearchCandidate_Validate(t *testing.T) {
	c := NewCandidate(Entity{Kind: KindProduct, Code: "B1"}, 1.4)
	assert.Equal(t, 1.0, c.BaseScore)
	assert.Equal(t, NeutralPersonalScore, c.PersonalScore)
	assert.ErrorIs(t, c.Validate(), ErrInvalidRank)

	c.OriginalRank, c.FinalRank = 1, 1
	assert.NoError(t, c.Validate())

	c.FinalScore = 1.2
	assert.ErrorIs(t, c.Validate(), ErrInvalidScore)
}

func TestEntity_EmbeddingText(t *testing.T) {
	e := Entity{Kind: KindProduct, Code: "B1", Name: "Bàn ăn", Group: "Bàn", PrimaryMaterial: "gỗ sồi"}
	assert.Equal(t, "Bàn ăn Bàn gỗ sồi", e.EmbeddingText())

	m := Entity{Kind: KindMaterial, Code: "M1", Name: "Gỗ sồi", Group: "Gỗ", PrimaryMaterial: "ignored"}
	assert.Equal(t, "Gỗ sồi Gỗ", m.EmbeddingText())
}
