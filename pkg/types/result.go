package types

// Default personal score used when a session has no usable history
const NeutralPersonalScore = 0.5

// SearchCandidate is a transient ranking record. It is built by a retrieval
// tier, enriched with signal scores, fused, and then discarded.
type SearchCandidate struct {
	Entity Entity

	// Scoring, each in [0, 1]
	BaseScore     float64 // retrieval relevance from the tier that produced it
	PersonalScore float64 // affinity to the session's interaction history
	FeedbackScore float64 // normalized approvals from similar past queries
	FinalScore    float64 // fused score

	// Ranking, 1-based
	OriginalRank int // position in the tier output
	FinalRank    int // position after fusion

	// Diagnostics from the tier
	Similarity    float64
	MatchRatio    float64
	FeedbackCount float64
	UsageCount    int     // relational expansion only
	TotalQuantity float64 // relational expansion only
}

// NewCandidate builds a candidate with neutral signal scores
func NewCandidate(e Entity, base float64) SearchCandidate {
	return SearchCandidate{
		Entity:        e,
		BaseScore:     Clamp01(base),
		PersonalScore: NeutralPersonalScore,
	}
}

// Validate checks score bounds and ranks after fusion
func (c *SearchCandidate) Validate() error {
	for _, s := range []float64{c.BaseScore, c.PersonalScore, c.FeedbackScore, c.FinalScore} {
		if s < 0 || s > 1 {
			return ErrInvalidScore
		}
	}
	if c.OriginalRank < 1 || c.FinalRank < 1 {
		return ErrInvalidRank
	}
	return nil
}

// Clamp01 bounds a score to [0, 1]
func Clamp01(x float64) float64 {
	switch {
	case x != x: // NaN
		return 0
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
