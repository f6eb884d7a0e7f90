package searcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dshills/catalog-mcp/internal/config"
	"github.com/dshills/catalog-mcp/internal/observability"
	"github.com/dshills/catalog-mcp/internal/storage"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// Tier names, also reported as the search method
const (
	TierHybrid  = "hybrid"
	TierVector  = "vector"
	TierKeyword = "keyword"
)

// New builds the standard hybrid, vector, keyword chain from config
func New(db storage.Storage, cfg config.SearchConfig, log *observability.Logger, metrics *observability.Metrics) *Executor {
	return NewExecutor([]Strategy{
		NewHybridTier(db, cfg, log),
		NewVectorTier(db, cfg.TopK),
		NewKeywordTier(db, cfg),
	}, log, metrics)
}

// HybridTier gates candidates on the head term in their name, then ranks
// the survivors by similarity to the remaining descriptive words.
type HybridTier struct {
	db       storage.Storage
	vocab    func(types.EntityKind) Vocab
	topK     int
	timeout  time.Duration
	minSim   float64
	strong   float64
	minRatio float64
	log      *observability.Logger
}

// NewHybridTier creates the hybrid tier with thresholds from cfg
func NewHybridTier(db storage.Storage, cfg config.SearchConfig, log *observability.Logger) *HybridTier {
	return &HybridTier{
		db:       db,
		vocab:    DefaultVocab,
		topK:     cfg.TopK,
		timeout:  cfg.HybridTimeout,
		minSim:   cfg.MinSimilarity,
		strong:   cfg.StrongSimilarity,
		minRatio: cfg.MinMatchRatio,
		log:      observability.OrNop(log).WithComponent("hybrid_tier"),
	}
}

// Name implements Strategy
func (h *HybridTier) Name() string { return TierHybrid }

// Execute implements Strategy
func (h *HybridTier) Execute(ctx context.Context, q *Query) ([]types.SearchCandidate, error) {
	split := SplitQuery(q.Text, h.vocab(q.Kind))
	if split.Head == "" {
		return nil, nil
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	embedText := strings.Join(split.Secondary, " ")
	if embedText == "" {
		embedText = q.SearchText()
	}
	vector, err := q.Embed(ctx, embedText)
	if err != nil {
		return nil, timeoutOr(ctx, err)
	}

	entities, err := h.db.HeadTermCandidates(ctx, q.Kind, split.Head, q.Filters)
	if err != nil {
		return nil, timeoutOr(ctx, err)
	}

	cands := make([]types.SearchCandidate, 0, len(entities))
	for i := range entities {
		e := entities[i]
		sim := types.CosineSimilarity(types.AlignVector(vector, len(e.Vector)), e.Vector)
		ratio := MatchRatio(&e, split.Secondary)
		if !h.keep(sim, ratio, split.HasSecondary()) {
			continue
		}
		c := types.NewCandidate(e, sim)
		c.Similarity = sim
		c.MatchRatio = ratio
		cands = append(cands, c)
	}
	if err := ctx.Err(); err != nil {
		return nil, timeoutOr(ctx, err)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Similarity > cands[j].Similarity
	})

	h.log.Debug().
		Str("head", split.Head).
		Strs("secondary", split.Secondary).
		Int("gated", len(entities)).
		Int("kept", len(cands)).
		Msg("hybrid tier scored candidates")

	return limit(cands, h.topK, q.Limit), nil
}

// keep applies the adaptive threshold. With no secondary words the match
// ratio requirement is disabled.
func (h *HybridTier) keep(sim, ratio float64, hasSecondary bool) bool {
	if sim < h.minSim {
		return false
	}
	return !hasSecondary || ratio >= h.minRatio || sim >= h.strong
}

// MatchRatio is the fraction of words found in the entity's descriptive
// fields. It is 0 for no words.
func MatchRatio(e *types.Entity, words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	text := strings.ToLower(strings.Join([]string{e.Name, e.Group, e.SubGroup, e.PrimaryMaterial}, " "))
	hits := 0
	for _, w := range words {
		if strings.Contains(text, strings.ToLower(w)) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

// VectorTier ranks every entity with a stored vector by similarity to the
// full query
type VectorTier struct {
	db   storage.Storage
	topK int
}

// NewVectorTier creates the vector tier
func NewVectorTier(db storage.Storage, topK int) *VectorTier {
	return &VectorTier{db: db, topK: topK}
}

// Name implements Strategy
func (v *VectorTier) Name() string { return TierVector }

// Execute implements Strategy
func (v *VectorTier) Execute(ctx context.Context, q *Query) ([]types.SearchCandidate, error) {
	text := q.SearchText()
	if text == "" {
		return nil, nil
	}
	vector, err := q.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	n := v.topK
	if q.Limit > 0 && q.Limit < n {
		n = q.Limit
	}
	scored, err := v.db.NearestEntities(ctx, q.Kind, vector, n, q.Filters)
	if err != nil {
		return nil, err
	}

	cands := make([]types.SearchCandidate, len(scored))
	for i, s := range scored {
		cands[i] = types.NewCandidate(s.Entity, s.Similarity)
		cands[i].Similarity = s.Similarity
	}
	return cands, nil
}

// KeywordTier matches substrings without any embedding. With no criteria
// it returns a sample so the caller always has something to show.
type KeywordTier struct {
	db            storage.Storage
	productLimit  int
	materialLimit int
	sampleSize    int
}

// NewKeywordTier creates the keyword tier
func NewKeywordTier(db storage.Storage, cfg config.SearchConfig) *KeywordTier {
	return &KeywordTier{
		db:            db,
		productLimit:  cfg.KeywordLimitProd,
		materialLimit: cfg.KeywordLimitMat,
		sampleSize:    cfg.SampleSize,
	}
}

// Name implements Strategy
func (k *KeywordTier) Name() string { return TierKeyword }

// Execute implements Strategy
func (k *KeywordTier) Execute(ctx context.Context, q *Query) ([]types.SearchCandidate, error) {
	criteria := Criteria(q.Kind, q.Params, q.Text)
	if len(criteria) == 0 {
		sample, err := k.db.SampleEntities(ctx, q.Kind, k.sampleSize)
		if err != nil {
			return nil, err
		}
		cands := make([]types.SearchCandidate, len(sample))
		for i := range sample {
			cands[i] = types.NewCandidate(sample[i], 0)
		}
		return cands, nil
	}

	lim := k.productLimit
	if q.Kind == types.KindMaterial {
		lim = k.materialLimit
	}
	entities, err := k.db.KeywordSearch(ctx, q.Kind, criteria, q.Filters, lim)
	if err != nil {
		return nil, err
	}

	cands := make([]types.SearchCandidate, len(entities))
	for i := range entities {
		ratio := float64(storage.CountMatches(&entities[i], criteria)) / float64(len(criteria))
		cands[i] = types.NewCandidate(entities[i], ratio)
		cands[i].MatchRatio = ratio
	}
	return cands, nil
}

// Criteria builds keyword conditions from structured params. When no
// params are set the query text's tokens are used instead.
func Criteria(kind types.EntityKind, p types.SearchParams, text string) []storage.Criterion {
	var out []storage.Criterion
	add := func(term string, fields ...storage.Field) {
		if term = strings.TrimSpace(term); term != "" {
			out = append(out, storage.Criterion{Term: term, Fields: fields})
		}
	}

	if kind == types.KindMaterial {
		add(p.MaterialGroup, storage.FieldGroup, storage.FieldSubGroup, storage.FieldName)
		add(p.Category, storage.FieldGroup, storage.FieldSubGroup, storage.FieldName)
		add(p.SubCategory, storage.FieldSubGroup, storage.FieldName)
	} else {
		add(p.Category, storage.FieldGroup, storage.FieldSubGroup, storage.FieldName)
		add(p.SubCategory, storage.FieldSubGroup, storage.FieldName)
		add(p.MaterialPrimary, storage.FieldMaterial, storage.FieldName)
	}
	add(p.Code, storage.FieldCode)
	for _, kw := range p.Keywords {
		add(kw, storage.FieldName, storage.FieldGroup, storage.FieldSubGroup, storage.FieldMaterial)
	}

	if len(out) == 0 {
		for _, tok := range Tokenize(text) {
			add(tok, storage.FieldName, storage.FieldGroup, storage.FieldSubGroup, storage.FieldMaterial)
		}
	}
	return out
}

func limit(cands []types.SearchCandidate, topK, requested int) []types.SearchCandidate {
	n := topK
	if requested > 0 && (n <= 0 || requested < n) {
		n = requested
	}
	if n > 0 && len(cands) > n {
		return cands[:n]
	}
	return cands
}

// timeoutOr reports a deadline hit inside the tier as a transient error
func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: hybrid tier timed out: %v", types.ErrTransientIO, ctx.Err())
	}
	return err
}
