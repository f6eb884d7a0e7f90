// Package engine ties retrieval, personalization and fusion together and
// dispatches classified intents to them.
package engine

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/catalog-mcp/internal/embedder"
	"github.com/dshills/catalog-mcp/internal/expander"
	"github.com/dshills/catalog-mcp/internal/feedback"
	"github.com/dshills/catalog-mcp/internal/kv"
	"github.com/dshills/catalog-mcp/internal/observability"
	"github.com/dshills/catalog-mcp/internal/ranking"
	"github.com/dshills/catalog-mcp/internal/relational"
	"github.com/dshills/catalog-mcp/internal/searcher"
	"github.com/dshills/catalog-mcp/internal/storage"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// Status values for Response.Status outside the relational statuses
const (
	StatusOK           = "ok"
	StatusNoCandidates = "no_candidates"
)

// Config holds engine-level tuning
type Config struct {
	Policy       ranking.Policy
	DefaultLimit int
	SessionTTL   time.Duration
	Markups      Markups
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		Policy:       ranking.DefaultPolicy(),
		DefaultLimit: 10,
		SessionTTL:   30 * time.Minute,
		Markups:      DefaultMarkups(),
	}
}

// Deps are the collaborators of an Engine. Storage, Executor and Feedback
// are required; the rest fall back to no-op or in-memory versions.
type Deps struct {
	Storage    storage.Storage
	Embedder   embedder.Embedder
	Executor   *searcher.Executor
	Expander   expander.Expander
	Feedback   *feedback.Store
	Relational *relational.Expander
	Sessions   kv.Store
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// Engine answers searches and intents
type Engine struct {
	db         storage.Storage
	emb        embedder.Embedder
	exec       *searcher.Executor
	expander   expander.Expander
	feedback   *feedback.Store
	relational *relational.Expander
	sessions   kv.Store
	cfg        Config
	log        *observability.Logger
	metrics    *observability.Metrics
}

// New creates an Engine
func New(deps Deps, cfg Config) *Engine {
	log := observability.OrNop(deps.Logger)
	if deps.Expander == nil {
		deps.Expander = expander.Noop{}
	}
	if deps.Relational == nil {
		deps.Relational = relational.New(deps.Storage, deps.Embedder, relational.DefaultConfig(), log)
	}
	if deps.Sessions == nil {
		deps.Sessions = kv.NewMemoryStore(0, cfg.SessionTTL)
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultConfig().DefaultLimit
	}

	return &Engine{
		db:         deps.Storage,
		emb:        deps.Embedder,
		exec:       deps.Executor,
		expander:   deps.Expander,
		feedback:   deps.Feedback,
		relational: deps.Relational,
		sessions:   deps.Sessions,
		cfg:        cfg,
		log:        log.WithComponent("engine"),
		metrics:    deps.Metrics,
	}
}

// SearchRequest is a single-entity ranked search
type SearchRequest struct {
	Kind      types.EntityKind
	Query     string
	Params    types.SearchParams
	Filters   *storage.Filters
	SessionID string
	Limit     int
	IsBroad   bool
}

// Response is the ranked answer to a search or intent
type Response struct {
	Intent        string                 `json:"intent,omitempty"`
	Method        string                 `json:"method"`
	Status        string                 `json:"status"`
	Kind          types.EntityKind       `json:"kind,omitempty"`
	Items         []Item                 `json:"items"`
	Summary       ranking.Summary        `json:"ranking_summary"`
	ExpandedQuery string                 `json:"expanded_query,omitempty"`
	Broad         bool                   `json:"is_broad_query"`
	Seeds         []string               `json:"seeds,omitempty"`
	Explanation   string                 `json:"explanation,omitempty"`
	Tiers         []searcher.TierOutcome `json:"tiers,omitempty"`
	Suggestions   []string               `json:"suggested_prompts,omitempty"`
	FollowUp      string                 `json:"follow_up_question,omitempty"`
	Cost          *CostReport            `json:"cost,omitempty"`
}

// Item is one ranked entity in a Response
type Item struct {
	EntityCode    string           `json:"entity_code"`
	DisplayName   string           `json:"display_name"`
	Kind          types.EntityKind `json:"kind"`
	Group         string           `json:"group,omitempty"`
	SubGroup      string           `json:"sub_group,omitempty"`
	Material      string           `json:"material_primary,omitempty"`
	Unit          string           `json:"unit,omitempty"`
	ImageURL      string           `json:"image_url,omitempty"`
	LatestPrice   float64          `json:"latest_price,omitempty"`
	BaseScore     float64          `json:"base_score"`
	PersonalScore float64          `json:"personal_score"`
	FeedbackScore float64          `json:"feedback_score"`
	FinalScore    float64          `json:"final_score"`
	OriginalRank  int              `json:"original_rank"`
	FinalRank     int              `json:"final_rank"`
	Similarity    float64          `json:"similarity,omitempty"`
	FeedbackCount float64          `json:"feedback_count,omitempty"`
	UsageCount    int              `json:"usage_count,omitempty"`
	TotalQuantity float64          `json:"total_quantity,omitempty"`
}

// Search runs the tier chain and fuses the result with the session's
// personal signal and past feedback. Retrieval failures never surface as
// errors: the response reports MethodNone and no items instead.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*Response, error) {
	start := time.Now()
	if req.Kind == "" {
		req.Kind = types.KindProduct
	}
	text := strings.TrimSpace(req.Query)
	if text == "" {
		text = paramsText(req.Params)
	}
	if text == "" && req.Params.IsEmpty() {
		return nil, types.ErrEmptyQuery
	}
	log := e.log.WithOperation("search").WithSession(req.SessionID)

	q := searcher.NewQuery(req.Kind, text, req.Params, e.emb)
	q.Filters = req.Filters
	q.Limit = e.limit(req.Limit)

	var hasHistory bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if expanded := e.expander.Expand(gctx, text); expanded != text {
			q.Expanded = expanded
		}
		return nil
	})
	g.Go(func() error {
		hasHistory = e.feedback.HasHistory(gctx, req.SessionID)
		return nil
	})
	_ = g.Wait()

	res := e.exec.Search(ctx, q)
	resp := &Response{
		Method:        res.Method,
		Status:        StatusOK,
		Kind:          req.Kind,
		ExpandedQuery: q.Expanded,
		Broad:         req.IsBroad,
		Tiers:         res.Tried,
	}
	if len(res.Candidates) == 0 {
		resp.Status = StatusNoCandidates
		resp.Items = []Item{}
		e.metrics.ObserveSearch(string(req.Kind), res.Method, time.Since(start))
		log.Info().Str("kind", string(req.Kind)).Msg("no candidates from any tier")
		return resp, nil
	}

	cands := e.fuse(ctx, q, res.Candidates, req.SessionID, hasHistory, keywords(text, req.Params))
	if len(cands) > q.Limit {
		cands = cands[:q.Limit]
	}
	resp.Items = toItems(cands)
	resp.Summary = ranking.Summarize(cands)

	e.metrics.ObserveSearch(string(req.Kind), res.Method, time.Since(start))
	log.Info().
		Str("kind", string(req.Kind)).
		Str("method", res.Method).
		Int("items", len(resp.Items)).
		Bool("history", hasHistory).
		Int("boosted", resp.Summary.BoostedItems).
		Dur("elapsed", time.Since(start)).
		Msg("search completed")
	return resp, nil
}

// CrossSearch answers a relational intent: products using a material, or
// materials used by a product. The executor is never consulted.
func (e *Engine) CrossSearch(ctx context.Context, intent string, req SearchRequest) (*Response, error) {
	start := time.Now()
	text := strings.TrimSpace(req.Query)
	if text == "" {
		text = paramsText(req.Params)
	}
	if text == "" {
		return nil, types.ErrEmptyQuery
	}

	var (
		res        relational.Result
		hasHistory bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		switch intent {
		case types.IntentProductByMaterial:
			res = e.relational.ProductsUsingMaterial(gctx, text, req.Params)
		case types.IntentMaterialForProduct:
			res = e.relational.MaterialsForProduct(gctx, text, req.Params)
		default:
			return types.ErrUnknownIntent
		}
		return nil
	})
	g.Go(func() error {
		hasHistory = e.feedback.HasHistory(gctx, req.SessionID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resp := &Response{
		Intent:      intent,
		Method:      res.Status,
		Status:      res.Status,
		Kind:        res.Kind,
		Seeds:       res.Seeds,
		Explanation: res.Explanation,
		Items:       []Item{},
	}
	if len(res.Candidates) > 0 {
		q := searcher.NewQuery(res.Kind, text, req.Params, e.emb)
		cands := e.fuse(ctx, q, res.Candidates, req.SessionID, hasHistory, nil)
		resp.Items = toItems(cands)
		resp.Summary = ranking.Summarize(cands)
	}

	e.metrics.ObserveSearch(string(res.Kind), res.Status, time.Since(start))
	e.log.WithOperation("cross_search").WithSession(req.SessionID).Info().
		Str("intent", intent).
		Str("status", res.Status).
		Int("seeds", len(res.Seeds)).
		Int("items", len(resp.Items)).
		Msg("cross search completed")
	return resp, nil
}

// fuse fetches the personal and feedback signals concurrently, applies
// the lexical boost and ranks the candidates
func (e *Engine) fuse(ctx context.Context, q *searcher.Query, cands []types.SearchCandidate, sessionID string, hasHistory bool, kws []string) []types.SearchCandidate {
	var (
		personal []float64
		boost    feedback.Boost
	)
	g, gctx := errgroup.WithContext(ctx)
	if hasHistory {
		g.Go(func() error {
			personal = e.feedback.PersonalAffinities(gctx, cands, sessionID)
			return nil
		})
	}
	g.Go(func() error {
		// Feedback is stored against the raw query, never the expansion.
		vector, err := q.Embed(gctx, q.Text)
		if err != nil {
			e.log.Debug().Err(err).Msg("feedback boost skipped")
			return nil
		}
		boost = e.feedback.FeedbackBoost(gctx, vector, q.Kind)
		return nil
	})
	_ = g.Wait()

	for i := range cands {
		c := &cands[i]
		if personal != nil {
			c.PersonalScore = personal[i]
		}
		code := c.Entity.Code
		c.FeedbackScore = boost.Scores[code]
		c.FeedbackCount = boost.Counts[code]
	}
	ranking.ApplyQueryMatch(cands, kws)

	e.metrics.ObserveFusion(hasHistory)
	return ranking.Rank(cands, hasHistory, e.cfg.Policy)
}

func (e *Engine) limit(requested int) int {
	if requested > 0 {
		return requested
	}
	return e.cfg.DefaultLimit
}

// keywords are the query tokens plus any extracted keyword params
func keywords(text string, p types.SearchParams) []string {
	out := searcher.Tokenize(text)
	for _, kw := range p.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// paramsText joins the structured params into a query when no free text
// was given
func paramsText(p types.SearchParams) string {
	parts := append([]string{}, p.Keywords...)
	parts = append(parts, p.Category, p.SubCategory, p.MaterialPrimary, p.MaterialGroup)
	out := parts[:0]
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}

func toItems(cands []types.SearchCandidate) []Item {
	items := make([]Item, len(cands))
	for i, c := range cands {
		items[i] = Item{
			EntityCode:    c.Entity.Code,
			DisplayName:   c.Entity.Name,
			Kind:          c.Entity.Kind,
			Group:         c.Entity.Group,
			SubGroup:      c.Entity.SubGroup,
			Material:      c.Entity.PrimaryMaterial,
			Unit:          c.Entity.Unit,
			ImageURL:      c.Entity.ImageURL,
			LatestPrice:   c.Entity.Prices.Latest(),
			BaseScore:     c.BaseScore,
			PersonalScore: c.PersonalScore,
			FeedbackScore: c.FeedbackScore,
			FinalScore:    c.FinalScore,
			OriginalRank:  c.OriginalRank,
			FinalRank:     c.FinalRank,
			Similarity:    c.Similarity,
			FeedbackCount: c.FeedbackCount,
			UsageCount:    c.UsageCount,
			TotalQuantity: c.TotalQuantity,
		}
	}
	return items
}
