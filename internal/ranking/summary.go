package ranking

import (
	"sort"

	"github.com/dshills/catalog-mcp/pkg/types"
)

const maxRankChanges = 5

// RankChange describes an entity that moved during fusion
type RankChange struct {
	Code  string `json:"id"`
	Name  string `json:"name"`
	From  int    `json:"from_rank"`
	To    int    `json:"to_rank"`
	Boost int    `json:"boost"` // positive means moved up
}

// Summary explains what fusion did to a result list
type Summary struct {
	TotalItems       int          `json:"total_items"`
	BoostedItems     int          `json:"boosted_items"`
	RankingApplied   bool         `json:"ranking_applied"`
	MaxFeedbackCount float64      `json:"max_feedback_count"`
	RankingChanges   []RankChange `json:"ranking_changes,omitempty"`
}

// Summarize reports boosted items and the largest rank movements
func Summarize(cands []types.SearchCandidate) Summary {
	s := Summary{TotalItems: len(cands)}
	if len(cands) == 0 {
		return s
	}

	for _, c := range cands {
		if c.FeedbackCount > 0 {
			s.BoostedItems++
		}
		if c.FeedbackCount > s.MaxFeedbackCount {
			s.MaxFeedbackCount = c.FeedbackCount
		}
		if c.OriginalRank > 0 && c.FinalRank > 0 && c.OriginalRank != c.FinalRank {
			name := []rune(c.Entity.Name)
			if len(name) > 30 {
				name = name[:30]
			}
			s.RankingChanges = append(s.RankingChanges, RankChange{
				Code:  c.Entity.Code,
				Name:  string(name),
				From:  c.OriginalRank,
				To:    c.FinalRank,
				Boost: c.OriginalRank - c.FinalRank,
			})
		}
	}
	s.RankingApplied = s.BoostedItems > 0

	sort.SliceStable(s.RankingChanges, func(i, j int) bool {
		return s.RankingChanges[i].Boost > s.RankingChanges[j].Boost
	})
	if len(s.RankingChanges) > maxRankChanges {
		s.RankingChanges = s.RankingChanges[:maxRankChanges]
	}
	return s
}
