package searcher

import (
	"context"
	"time"

	"github.com/dshills/catalog-mcp/internal/observability"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// Method tags reported when no tier produced candidates
const (
	MethodNone = "none"
)

// Tier outcome labels used in logs and metrics
const (
	OutcomeHit   = "hit"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// Strategy is one retrieval tier. Execute returns candidates in the tier's
// own relevance order; an error is treated by the executor as no result.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, q *Query) ([]types.SearchCandidate, error)
}

// TierOutcome records what one tier did during a search
type TierOutcome struct {
	Tier     string        `json:"tier"`
	Outcome  string        `json:"outcome"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Result is the output of the first tier that produced candidates
type Result struct {
	Candidates []types.SearchCandidate
	Method     string
	Expanded   string
	Tried      []TierOutcome
}

// Executor runs tiers in order and stops at the first non-empty one
type Executor struct {
	tiers   []Strategy
	log     *observability.Logger
	metrics *observability.Metrics
}

// NewExecutor creates an executor over the given tiers. log and metrics
// may be nil.
func NewExecutor(tiers []Strategy, log *observability.Logger, metrics *observability.Metrics) *Executor {
	return &Executor{
		tiers:   tiers,
		log:     observability.OrNop(log).WithComponent("searcher"),
		metrics: metrics,
	}
}

// Tiers returns the tier names in execution order
func (e *Executor) Tiers() []string {
	names := make([]string, len(e.tiers))
	for i, t := range e.tiers {
		names[i] = t.Name()
	}
	return names
}

// Search tries each tier until one returns at least one candidate. It
// never returns an error: failed tiers are logged and skipped, and when
// every tier is empty the result carries MethodNone.
func (e *Executor) Search(ctx context.Context, q *Query) Result {
	res := Result{Method: MethodNone, Expanded: q.Expanded}

	for _, tier := range e.tiers {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		cands, err := tier.Execute(ctx, q)
		elapsed := time.Since(start)

		out := TierOutcome{Tier: tier.Name(), Count: len(cands), Duration: elapsed}
		switch {
		case err != nil:
			out.Outcome = OutcomeError
			out.Error = err.Error()
			out.Count = 0
			e.log.Warn().
				Str("tier", tier.Name()).
				Str("kind", string(q.Kind)).
				Dur("elapsed", elapsed).
				Err(err).
				Msg("search tier failed, falling back")
		case len(cands) == 0:
			out.Outcome = OutcomeEmpty
			e.log.Debug().Str("tier", tier.Name()).Dur("elapsed", elapsed).Msg("search tier returned no candidates")
		default:
			out.Outcome = OutcomeHit
		}
		e.metrics.ObserveTier(tier.Name(), out.Outcome, elapsed)
		res.Tried = append(res.Tried, out)

		if out.Outcome == OutcomeHit {
			res.Candidates = cands
			res.Method = tier.Name()
			e.log.Info().
				Str("tier", tier.Name()).
				Str("kind", string(q.Kind)).
				Int("count", len(cands)).
				Msg("search tier hit")
			return res
		}
	}
	return res
}
