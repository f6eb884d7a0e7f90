package searcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/catalog-mcp/internal/config"
	"github.com/dshills/catalog-mcp/internal/embedder/embeddertest"
	"github.com/dshills/catalog-mcp/internal/storage"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// setupTestStore creates an in-memory catalog with four products
func setupTestStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, e := range []types.Entity{
		{Kind: types.KindProduct, Code: "P1", Name: "Bàn làm việc gỗ sồi", Group: "Bàn", PrimaryMaterial: "Gỗ sồi", Vector: []float32{1, 0, 0}},
		{Kind: types.KindProduct, Code: "P2", Name: "Ghế sofa da", Group: "Ghế", PrimaryMaterial: "Da bò", Vector: []float32{0, 1, 0}},
		{Kind: types.KindProduct, Code: "P3", Name: "Bàn ăn mặt đá", Group: "Bàn", SubGroup: "Phòng ăn", PrimaryMaterial: "Đá marble", Vector: []float32{0.7, 0.7, 0}},
		{Kind: types.KindProduct, Code: "P4", Name: "Tủ áo", Group: "Tủ"},
	} {
		e := e
		require.NoError(t, db.UpsertEntity(ctx, &e))
	}
	return db
}

func testSearchConfig() config.SearchConfig {
	return config.DefaultConfig().Search
}

func codes(cands []types.SearchCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Entity.Code
	}
	return out
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"bàn", "làm", "việc", "gỗ"}, Tokenize("Bàn làm việc, gỗ!"))
	assert.Equal(t, []string{"shape"}, Tokenize("L-shape"))
	assert.Empty(t, Tokenize("  ?! "))
}

func TestSplitQuery(t *testing.T) {
	products := DefaultVocab(types.KindProduct)
	materials := DefaultVocab(types.KindMaterial)

	tests := []struct {
		name      string
		text      string
		vocab     Vocab
		head      string
		phrase    string
		secondary []string
	}{
		{"type phrase has no secondary words", "bàn làm việc", products, "bàn", "bàn làm việc", nil},
		{"type phrase with attributes", "Bàn làm việc gỗ sồi", products, "bàn", "bàn làm việc", []string{"gỗ", "sồi"}},
		{"vocabulary word not first", "mẫu ghế gỗ", products, "ghế", "", []string{"mẫu", "gỗ"}},
		{"phrase maps to another head", "ghế sofa da bò", products, "sofa", "ghế sofa", []string{"da", "bò"}},
		{"repeated head removed", "bàn gỗ bàn", products, "bàn", "", []string{"gỗ"}},
		{"fallback to first token", "walnut veneer", products, "walnut", "", []string{"veneer"}},
		{"english vocabulary", "oak dining table", products, "table", "dining table", []string{"oak"}},
		{"material vocabulary", "gỗ sồi tự nhiên", materials, "gỗ", "", []string{"sồi", "tự", "nhiên"}},
		{"empty", "", products, "", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split := SplitQuery(tt.text, tt.vocab)
			assert.Equal(t, tt.head, split.Head)
			assert.Equal(t, tt.phrase, split.Phrase)
			assert.Equal(t, tt.secondary, split.Secondary)
			assert.Equal(t, len(tt.secondary) > 0, split.HasSecondary())
		})
	}
}

func TestQueryEmbedMemoizesFailures(t *testing.T) {
	emb := embeddertest.New(nil)
	emb.Err = errors.New("connection refused")
	q := NewQuery(types.KindProduct, "bàn", types.SearchParams{}, emb)

	ctx := context.Background()
	_, err := q.Embed(ctx, "bàn")
	assert.ErrorIs(t, err, types.ErrEmbeddingUnavailable)
	_, err = q.Embed(ctx, "bàn")
	assert.ErrorIs(t, err, types.ErrEmbeddingUnavailable)
	assert.Equal(t, 1, emb.Calls("bàn"))
}

func TestQueryEmbedNilEmbedder(t *testing.T) {
	q := NewQuery(types.KindProduct, "bàn", types.SearchParams{}, nil)
	_, err := q.Embed(context.Background(), "bàn")
	assert.ErrorIs(t, err, types.ErrEmbeddingUnavailable)
}

func TestHybridKeep(t *testing.T) {
	h := NewHybridTier(nil, testSearchConfig(), nil)

	tests := []struct {
		name         string
		sim, ratio   float64
		hasSecondary bool
		want         bool
	}{
		{"below minimum", 0.34, 1, true, false},
		{"below minimum without secondary", 0.34, 0, false, false},
		{"no secondary disables ratio", 0.35, 0, false, true},
		{"ratio satisfied", 0.4, 0.5, true, true},
		{"ratio too low", 0.5, 0.49, true, false},
		{"strong similarity overrides ratio", 0.6, 0, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.keep(tt.sim, tt.ratio, tt.hasSecondary))
		})
	}
}

func TestMatchRatio(t *testing.T) {
	e := &types.Entity{Name: "Bàn ăn mặt đá", PrimaryMaterial: "Đá marble"}
	assert.Equal(t, 0.0, MatchRatio(e, nil))
	assert.Equal(t, 1.0, MatchRatio(e, []string{"đá", "marble"}))
	assert.Equal(t, 0.5, MatchRatio(e, []string{"marble", "kính"}))
}

func TestHybridTier(t *testing.T) {
	db := setupTestStore(t)
	emb := embeddertest.New(map[string][]float32{
		"bàn làm việc":   {1, 0, 0},
		"đá marble":      {0, 1, 0},
		"kính cường lực": {0.5, 0.5, 0.70710678},
	})
	h := NewHybridTier(db, testSearchConfig(), nil)
	ctx := context.Background()

	t.Run("phrase only keeps every head match above minimum", func(t *testing.T) {
		q := NewQuery(types.KindProduct, "bàn làm việc", types.SearchParams{}, emb)
		cands, err := h.Execute(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []string{"P1", "P3"}, codes(cands))
		assert.InDelta(t, 1.0, cands[0].BaseScore, 1e-6)
		assert.InDelta(t, 0.7071, cands[1].Similarity, 1e-3)
		assert.Equal(t, 0.5, cands[0].PersonalScore)
	})

	t.Run("secondary words are embedded alone", func(t *testing.T) {
		q := NewQuery(types.KindProduct, "bàn đá marble", types.SearchParams{}, emb)
		cands, err := h.Execute(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []string{"P3"}, codes(cands))
		assert.Equal(t, 1.0, cands[0].MatchRatio)
		assert.Equal(t, 1, emb.Calls("đá marble"))
	})

	t.Run("weak match without secondary hits is dropped", func(t *testing.T) {
		q := NewQuery(types.KindProduct, "bàn kính cường lực", types.SearchParams{}, emb)
		cands, err := h.Execute(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, []string{"P3"}, codes(cands))
	})

	t.Run("head term gates type", func(t *testing.T) {
		q := NewQuery(types.KindProduct, "giường đá marble", types.SearchParams{}, emb)
		cands, err := h.Execute(ctx, q)
		require.NoError(t, err)
		assert.Empty(t, cands)
	})
}

func TestHybridTierTimeout(t *testing.T) {
	db := setupTestStore(t)
	emb := embeddertest.New(nil)
	emb.Block = true

	cfg := testSearchConfig()
	cfg.HybridTimeout = 20 * time.Millisecond
	h := NewHybridTier(db, cfg, nil)

	q := NewQuery(types.KindProduct, "bàn làm việc", types.SearchParams{}, emb)
	start := time.Now()
	cands, err := h.Execute(context.Background(), q)
	assert.Empty(t, cands)
	assert.ErrorIs(t, err, types.ErrTransientIO)
	assert.Less(t, time.Since(start), 2*time.Second)

	// the timed out lookup is not remembered
	emb.Block = false
	emb.Default = []float32{1, 0, 0}
	_, err = q.Embed(context.Background(), "bàn làm việc")
	assert.NoError(t, err)
}

func TestVectorTier(t *testing.T) {
	db := setupTestStore(t)
	emb := embeddertest.New(map[string][]float32{"ghế sofa": {0, 1, 0}})
	v := NewVectorTier(db, 10)

	q := NewQuery(types.KindProduct, "ghế sofa", types.SearchParams{}, emb)
	cands, err := v.Execute(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, cands, 3) // P4 has no vector
	assert.Equal(t, "P2", cands[0].Entity.Code)
	assert.InDelta(t, 1.0, cands[0].BaseScore, 1e-6)

	q = NewQuery(types.KindProduct, "ghế sofa", types.SearchParams{}, emb)
	q.Limit = 1
	cands, err = v.Execute(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, cands, 1)
}

func TestCriteria(t *testing.T) {
	got := Criteria(types.KindProduct, types.SearchParams{Category: "Bàn", MaterialPrimary: "gỗ"}, "ignored text")
	require.Len(t, got, 2)
	assert.Equal(t, "Bàn", got[0].Term)
	assert.Equal(t, []storage.Field{storage.FieldMaterial, storage.FieldName}, got[1].Fields)

	got = Criteria(types.KindMaterial, types.SearchParams{MaterialGroup: "Gỗ", Code: "M1"}, "")
	require.Len(t, got, 2)
	assert.Equal(t, []storage.Field{storage.FieldCode}, got[1].Fields)

	got = Criteria(types.KindProduct, types.SearchParams{}, "bàn gỗ")
	require.Len(t, got, 2)
	assert.Equal(t, "gỗ", got[1].Term)

	assert.Empty(t, Criteria(types.KindProduct, types.SearchParams{}, ""))
}

func TestKeywordTier(t *testing.T) {
	db := setupTestStore(t)
	k := NewKeywordTier(db, testSearchConfig())
	ctx := context.Background()

	q := NewQuery(types.KindProduct, "bàn gỗ", types.SearchParams{}, nil)
	cands, err := k.Execute(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P3"}, codes(cands))
	assert.Equal(t, 1.0, cands[0].BaseScore)
	assert.Equal(t, 0.5, cands[1].BaseScore)

	q = NewQuery(types.KindProduct, "", types.SearchParams{}, nil)
	cands, err = k.Execute(ctx, q)
	require.NoError(t, err)
	assert.Len(t, cands, 4, "no criteria returns a sample")
}

type stubTier struct {
	name  string
	cands []types.SearchCandidate
	err   error
	calls int
}

func (s *stubTier) Name() string { return s.name }

func (s *stubTier) Execute(context.Context, *Query) ([]types.SearchCandidate, error) {
	s.calls++
	return s.cands, s.err
}

func TestExecutorFallsThrough(t *testing.T) {
	first := &stubTier{name: "first", err: errors.New("boom")}
	second := &stubTier{name: "second"}
	third := &stubTier{name: "third", cands: []types.SearchCandidate{types.NewCandidate(types.Entity{Code: "X"}, 1)}}
	fourth := &stubTier{name: "fourth", cands: []types.SearchCandidate{types.NewCandidate(types.Entity{Code: "Y"}, 1)}}

	exec := NewExecutor([]Strategy{first, second, third, fourth}, nil, nil)
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, exec.Tiers())

	res := exec.Search(context.Background(), NewQuery(types.KindProduct, "x", types.SearchParams{}, nil))
	assert.Equal(t, "third", res.Method)
	assert.Equal(t, []string{"X"}, codes(res.Candidates))
	require.Len(t, res.Tried, 3)
	assert.Equal(t, OutcomeError, res.Tried[0].Outcome)
	assert.Equal(t, "boom", res.Tried[0].Error)
	assert.Equal(t, OutcomeEmpty, res.Tried[1].Outcome)
	assert.Equal(t, OutcomeHit, res.Tried[2].Outcome)
	assert.Equal(t, 0, fourth.calls)
}

func TestExecutorAllEmpty(t *testing.T) {
	exec := NewExecutor([]Strategy{&stubTier{name: "a"}, &stubTier{name: "b"}}, nil, nil)
	res := exec.Search(context.Background(), NewQuery(types.KindProduct, "x", types.SearchParams{}, nil))
	assert.Equal(t, MethodNone, res.Method)
	assert.Empty(t, res.Candidates)
	assert.Len(t, res.Tried, 2)
}

func TestSearchFallsBackToKeywordWhenEmbeddingFails(t *testing.T) {
	db := setupTestStore(t)
	emb := embeddertest.New(nil)
	emb.Err = errors.New("model not loaded")

	exec := New(db, testSearchConfig(), nil, nil)
	res := exec.Search(context.Background(), NewQuery(types.KindProduct, "bàn gỗ", types.SearchParams{}, emb))

	assert.Equal(t, TierKeyword, res.Method)
	assert.Equal(t, []string{"P1", "P3"}, codes(res.Candidates))
	require.Len(t, res.Tried, 3)
	assert.Equal(t, OutcomeError, res.Tried[0].Outcome)
	assert.Equal(t, OutcomeError, res.Tried[1].Outcome)
	assert.Equal(t, 2, emb.TotalCalls()) // "gỗ" for hybrid, "bàn gỗ" for vector
}

func TestSearchHybridWins(t *testing.T) {
	db := setupTestStore(t)
	emb := embeddertest.New(map[string][]float32{"bàn làm việc": {1, 0, 0}})

	exec := New(db, testSearchConfig(), nil, nil)
	res := exec.Search(context.Background(), NewQuery(types.KindProduct, "bàn làm việc", types.SearchParams{}, emb))
	assert.Equal(t, TierHybrid, res.Method)
	assert.Equal(t, []string{"P1", "P3"}, codes(res.Candidates))
	assert.Len(t, res.Tried, 1)
}
