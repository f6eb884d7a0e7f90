// Package ranking fuses retrieval, personalization and feedback signals
// into a final ordering. Everything here is pure and deterministic.
package ranking

import (
	"sort"
	"strings"

	"github.com/dshills/catalog-mcp/pkg/types"
)

// Weights are the fusion coefficients for the three signals
type Weights struct {
	Base     float64
	Personal float64
	Feedback float64
}

var (
	// WithHistory is used when the session has interaction history
	WithHistory = Weights{Base: 0.3, Personal: 0.5, Feedback: 0.2}
	// WithoutHistory drops the personal signal
	WithoutHistory = Weights{Base: 0.6, Personal: 0, Feedback: 0.4}
)

// Policy picks the weights for a search
type Policy struct {
	History   Weights
	NoHistory Weights
}

// DefaultPolicy returns the production weights
func DefaultPolicy() Policy {
	return Policy{History: WithHistory, NoHistory: WithoutHistory}
}

// For returns the weights to use
func (p Policy) For(hasHistory bool) Weights {
	if hasHistory {
		return p.History
	}
	return p.NoHistory
}

// Score combines the clamped signals and clamps the result
func (w Weights) Score(base, personal, feedback float64) float64 {
	return types.Clamp01(w.Base*types.Clamp01(base) +
		w.Personal*types.Clamp01(personal) +
		w.Feedback*types.Clamp01(feedback))
}

// Fuse scores with the default policy
func Fuse(base, personal, feedback float64, hasHistory bool) float64 {
	return DefaultPolicy().For(hasHistory).Score(base, personal, feedback)
}

// Rank assigns OriginalRank from the incoming order, computes FinalScore,
// sorts by FinalScore descending and assigns FinalRank. The sort is
// stable so equal scores keep tier order. cands is reordered in place.
func Rank(cands []types.SearchCandidate, hasHistory bool, policy Policy) []types.SearchCandidate {
	w := policy.For(hasHistory)
	for i := range cands {
		c := &cands[i]
		c.OriginalRank = i + 1
		c.BaseScore = types.Clamp01(c.BaseScore)
		c.PersonalScore = types.Clamp01(c.PersonalScore)
		c.FeedbackScore = types.Clamp01(c.FeedbackScore)
		c.FinalScore = w.Score(c.BaseScore, c.PersonalScore, c.FeedbackScore)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].FinalScore > cands[j].FinalScore
	})
	for i := range cands {
		cands[i].FinalRank = i + 1
	}
	return cands
}

// NormalizeFeedback divides each count by the maximum. The result is in
// [0,1] and the most approved entity scores 1.
func NormalizeFeedback(counts map[string]float64) map[string]float64 {
	var top float64
	for _, c := range counts {
		if c > top {
			top = c
		}
	}
	out := make(map[string]float64, len(counts))
	if top <= 0 {
		return out
	}
	for code, c := range counts {
		if c > 0 {
			out[code] = types.Clamp01(c / top)
		}
	}
	return out
}

// Field boosts applied per query keyword
const (
	nameBoost     = 0.15
	groupBoost    = 0.08
	subGroupBoost = 0.06
	materialBoost = 0.05
	codeBoost     = 0.04
)

// QueryMatchBoost returns the lexical bonus for keywords found in the
// entity's fields and how many field matches produced it. Keywords
// shorter than two characters are ignored.
func QueryMatchBoost(e *types.Entity, keywords []string) (float64, int) {
	fields := []struct {
		value string
		boost float64
	}{
		{strings.ToLower(e.Name), nameBoost},
		{strings.ToLower(e.Group), groupBoost},
		{strings.ToLower(e.SubGroup), subGroupBoost},
		{strings.ToLower(e.PrimaryMaterial), materialBoost},
		{strings.ToLower(e.Code), codeBoost},
	}
	var boost float64
	matches := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if len([]rune(kw)) < 2 {
			continue
		}
		for _, f := range fields {
			if f.value != "" && strings.Contains(f.value, kw) {
				boost += f.boost
				matches++
			}
		}
	}
	return boost, matches
}

// ApplyQueryMatch adds QueryMatchBoost to every candidate's base score
func ApplyQueryMatch(cands []types.SearchCandidate, keywords []string) {
	if len(keywords) == 0 {
		return
	}
	for i := range cands {
		boost, _ := QueryMatchBoost(&cands[i].Entity, keywords)
		if boost > 0 {
			cands[i].BaseScore = types.Clamp01(cands[i].BaseScore + boost)
		}
	}
}
