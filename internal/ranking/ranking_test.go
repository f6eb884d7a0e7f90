package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/catalog-mcp/pkg/types"
)

func TestFuseWeights(t *testing.T) {
	tests := []struct {
		name                     string
		base, personal, feedback float64
		history                  bool
		want                     float64
	}{
		{"with history", 0.8, 0.6, 0.5, true, 0.3*0.8 + 0.5*0.6 + 0.2*0.5},
		{"without history ignores personal", 0.8, 0.9, 0.5, false, 0.6*0.8 + 0.4*0.5},
		{"inputs clamped", 1.7, -2, 3, true, 0.3 + 0.2},
		{"all zero", 0, 0, 0, false, 0},
		{"all one", 1, 1, 1, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Fuse(tt.base, tt.personal, tt.feedback, tt.history), 1e-9)
		})
	}
}

func TestFuseMonotonic(t *testing.T) {
	steps := []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1}
	for _, history := range []bool{true, false} {
		for i := 1; i < len(steps); i++ {
			lo, hi := steps[i-1], steps[i]
			assert.LessOrEqual(t, Fuse(lo, 0.5, 0.5, history), Fuse(hi, 0.5, 0.5, history))
			assert.LessOrEqual(t, Fuse(0.5, lo, 0.5, history), Fuse(0.5, hi, 0.5, history))
			assert.LessOrEqual(t, Fuse(0.5, 0.5, lo, history), Fuse(0.5, 0.5, hi, history))
		}
	}
}

func cand(code string, base, personal, feedback float64) types.SearchCandidate {
	c := types.NewCandidate(types.Entity{Kind: types.KindProduct, Code: code, Name: "item " + code}, base)
	c.PersonalScore = personal
	c.FeedbackScore = feedback
	return c
}

func TestRank(t *testing.T) {
	cands := []types.SearchCandidate{
		cand("A", 0.9, 0.5, 0),
		cand("B", 0.5, 0.5, 1),
		cand("C", 0.9, 0.5, 0),
	}
	cands[1].FeedbackCount = 3

	got := Rank(cands, false, DefaultPolicy())
	require.Len(t, got, 3)

	// B: 0.6*0.5+0.4 = 0.7; A and C: 0.54, tied, keep tier order
	assert.Equal(t, []string{"B", "A", "C"}, codes(got))
	assert.Equal(t, 2, got[0].OriginalRank)
	assert.Equal(t, 1, got[0].FinalRank)
	assert.Equal(t, 1, got[1].OriginalRank)
	assert.Equal(t, 3, got[2].OriginalRank)
	for _, c := range got {
		require.NoError(t, c.Validate())
	}
}

func TestRankEqualScoresKeepOrder(t *testing.T) {
	cands := []types.SearchCandidate{cand("x", 0.4, 0.5, 0), cand("y", 0.4, 0.5, 0), cand("z", 0.4, 0.5, 0)}
	got := Rank(cands, true, DefaultPolicy())
	assert.Equal(t, []string{"x", "y", "z"}, codes(got))
}

func TestNormalizeFeedback(t *testing.T) {
	got := NormalizeFeedback(map[string]float64{"A": 4, "B": 2, "C": 0})
	assert.Equal(t, 1.0, got["A"])
	assert.Equal(t, 0.5, got["B"])
	_, ok := got["C"]
	assert.False(t, ok)

	single := NormalizeFeedback(map[string]float64{"only": 0.9})
	assert.Equal(t, 1.0, single["only"])

	assert.Empty(t, NormalizeFeedback(nil))
}

func TestQueryMatchBoost(t *testing.T) {
	e := &types.Entity{
		Code:            "BAN-01",
		Name:            "Bàn làm việc",
		Group:           "Bàn",
		SubGroup:        "Văn phòng",
		PrimaryMaterial: "Gỗ sồi",
	}
	boost, n := QueryMatchBoost(e, []string{"bàn"})
	assert.InDelta(t, 0.15+0.08, boost, 1e-9)
	assert.Equal(t, 2, n)

	boost, _ = QueryMatchBoost(e, []string{"ban"})
	assert.InDelta(t, 0.04, boost, 1e-9)

	boost, n = QueryMatchBoost(e, []string{"sồi", "x", "phòng"})
	assert.InDelta(t, 0.05+0.06, boost, 1e-9)
	assert.Equal(t, 2, n)

	cands := []types.SearchCandidate{types.NewCandidate(*e, 0.95)}
	ApplyQueryMatch(cands, []string{"bàn"})
	assert.Equal(t, 1.0, cands[0].BaseScore)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	cands := []types.SearchCandidate{
		cand("A", 0.9, 0.5, 0),
		cand("B", 0.5, 0.5, 1),
		cand("C", 0.3, 0.5, 0.5),
	}
	cands[1].FeedbackCount = 2
	cands[2].FeedbackCount = 1
	ranked := Rank(cands, false, DefaultPolicy())

	s := Summarize(ranked)
	assert.Equal(t, 3, s.TotalItems)
	assert.Equal(t, 2, s.BoostedItems)
	assert.True(t, s.RankingApplied)
	assert.Equal(t, 2.0, s.MaxFeedbackCount)
	require.NotEmpty(t, s.RankingChanges)
	assert.Equal(t, "B", s.RankingChanges[0].Code)
	assert.Positive(t, s.RankingChanges[0].Boost)
}

func codes(cands []types.SearchCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Entity.Code
	}
	return out
}
