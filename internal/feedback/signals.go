package feedback

import (
	"context"

	"github.com/dshills/catalog-mcp/internal/ranking"
	"github.com/dshills/catalog-mcp/pkg/types"
)

const minNormProduct = 1e-8

// PersonalAffinity scores how close candidate is to the session's recent
// views, penalized by its closeness to recent rejections. It returns the
// neutral 0.5 when there is no history or no comparable vector.
func (s *Store) PersonalAffinity(ctx context.Context, candidate []float32, sessionID string) float64 {
	history, ok := s.history(ctx, sessionID)
	if !ok {
		return types.NeutralPersonalScore
	}
	return Affinity(candidate, history)
}

// PersonalAffinities scores every candidate against one history load. The
// result is parallel to cands.
func (s *Store) PersonalAffinities(ctx context.Context, cands []types.SearchCandidate, sessionID string) []float64 {
	out := make([]float64, len(cands))
	history, ok := s.history(ctx, sessionID)
	for i := range cands {
		if !ok {
			out[i] = types.NeutralPersonalScore
			continue
		}
		out[i] = Affinity(cands[i].Entity.Vector, history)
	}
	return out
}

func (s *Store) history(ctx context.Context, sessionID string) ([]types.InteractionEvent, bool) {
	if sessionID == "" {
		return nil, false
	}
	events, err := s.db.RecentInteractions(ctx, sessionID, s.cfg.HistoryWindow)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to load interaction history")
		return nil, false
	}
	return events, len(events) > 0
}

// Affinity is mean(positive similarity) - 0.5 * mean(negative similarity),
// clamped to [0,1]. Events whose vector length differs from the candidate's
// or whose norm product is below 1e-8 are skipped.
func Affinity(candidate []float32, history []types.InteractionEvent) float64 {
	if len(candidate) == 0 || len(history) == 0 {
		return types.NeutralPersonalScore
	}
	candNorm := types.Norm(candidate)

	var posSum, negSum float64
	var posN, negN int
	for _, ev := range history {
		if len(ev.EntityVector) == 0 || len(ev.EntityVector) != len(candidate) {
			continue
		}
		if candNorm*types.Norm(ev.EntityVector) < minNormProduct {
			continue
		}
		sim := types.CosineSimilarity(candidate, ev.EntityVector)
		if ev.Weight > 0 {
			posSum += sim
			posN++
		} else {
			negSum += sim
			negN++
		}
	}
	if posN == 0 && negN == 0 {
		return types.NeutralPersonalScore
	}

	var pos, neg float64
	if posN > 0 {
		pos = posSum / float64(posN)
	}
	if negN > 0 {
		neg = negSum / float64(negN)
	}
	return types.Clamp01(pos - 0.5*neg)
}

// Boost holds normalized feedback scores and the raw similarity-weighted
// approval counts behind them
type Boost struct {
	Scores map[string]float64
	Counts map[string]float64
}

// FeedbackBoost finds stored selections for queries similar to
// queryVector and returns per-entity scores normalized by the maximum.
// Lookup failures yield an empty boost.
func (s *Store) FeedbackBoost(ctx context.Context, queryVector []float32, kind types.EntityKind) Boost {
	empty := Boost{Scores: map[string]float64{}, Counts: map[string]float64{}}
	if len(queryVector) == 0 {
		return empty
	}
	matches, err := s.db.SimilarFeedback(ctx, kind, queryVector, s.cfg.SimilarityThreshold, s.cfg.MaxSimilarQueries)
	if err != nil {
		s.log.Warn().Err(err).Msg("feedback lookup failed")
		return empty
	}
	counts := CountSelections(matches)
	return Boost{Scores: ranking.NormalizeFeedback(counts), Counts: counts}
}

// CountSelections sums each match's similarity into every entity it selected
func CountSelections(matches []types.FeedbackMatch) map[string]float64 {
	counts := make(map[string]float64)
	for _, m := range matches {
		for _, code := range m.Selected {
			if code == "" {
				continue
			}
			counts[code] += m.Similarity
		}
	}
	return counts
}
