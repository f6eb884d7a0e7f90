package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/catalog-mcp/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedCatalog inserts a small furniture catalog:
//
//	P1 "Bàn làm việc gỗ sồi"  uses M1 (2), M2 (4)
//	P2 "Ghế sofa da"           uses M2 (1), M3 (3)
//	P3 "Bàn ăn mặt đá"         uses M1 (1)
//	P4 "Tủ áo"                 no vector, no materials
func seedCatalog(t testing.TB, s CatalogWriter) {
	t.Helper()
	ctx := context.Background()

	products := []types.Entity{
		{Kind: types.KindProduct, Code: "P1", Name: "Bàn làm việc gỗ sồi", Group: "Bàn", SubGroup: "Văn phòng", PrimaryMaterial: "Gỗ sồi", Vector: []float32{1, 0, 0}},
		{Kind: types.KindProduct, Code: "P2", Name: "Ghế sofa da", Group: "Ghế", SubGroup: "Phòng khách", PrimaryMaterial: "Da bò", Vector: []float32{0, 1, 0}},
		{Kind: types.KindProduct, Code: "P3", Name: "Bàn ăn mặt đá", Group: "Bàn", SubGroup: "Phòng ăn", PrimaryMaterial: "Đá marble", Vector: []float32{0.7, 0.7, 0}},
		{Kind: types.KindProduct, Code: "P4", Name: "Tủ áo", Group: "Tủ"},
	}
	materials := []types.Entity{
		{Kind: types.KindMaterial, Code: "M1", Name: "Gỗ sồi tự nhiên", Group: "Gỗ", Unit: "m3", Vector: []float32{1, 0, 0},
			Prices: types.PriceHistory{{Date: "2024-01-01", Price: 100}, {Date: "2024-06-01", Price: 120}}},
		{Kind: types.KindMaterial, Code: "M2", Name: "Vít inox", Group: "Phụ kiện", Unit: "cái", Vector: []float32{0, 0, 1},
			Prices: types.PriceHistory{{Date: "2024-02-01", Price: 2}}},
		{Kind: types.KindMaterial, Code: "M3", Name: "Da bò Ý", Group: "Da", Unit: "m2", Vector: []float32{0, 1, 0}},
	}
	for i := range products {
		require.NoError(t, s.UpsertEntity(ctx, &products[i]))
	}
	for i := range materials {
		require.NoError(t, s.UpsertEntity(ctx, &materials[i]))
	}
	for _, a := range []types.Association{
		{ProductCode: "P1", MaterialCode: "M1", Quantity: 2},
		{ProductCode: "P1", MaterialCode: "M2", Quantity: 4, Unit: "bộ"},
		{ProductCode: "P2", MaterialCode: "M2", Quantity: 1},
		{ProductCode: "P2", MaterialCode: "M3", Quantity: 3},
		{ProductCode: "P3", MaterialCode: "M1", Quantity: 1},
	} {
		require.NoError(t, s.UpsertAssociation(ctx, a))
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	s := setupTestDB(t)
	assert.NotNil(t, s.db)
	assert.Equal(t, CurrentSchemaVersion, currentVersion(context.Background(), s.db))
}

func TestUpsertAndGetEntity(t *testing.T) {
	s := setupTestDB(t)
	seedCatalog(t, s)
	ctx := context.Background()

	p, err := s.GetEntity(ctx, types.KindProduct, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Bàn làm việc gỗ sồi", p.Name)
	assert.Equal(t, "Gỗ sồi", p.PrimaryMaterial)
	assert.Equal(t, []float32{1, 0, 0}, p.Vector)

	m, err := s.GetEntity(ctx, types.KindMaterial, "M1")
	require.NoError(t, err)
	assert.Equal(t, 120.0, m.Prices.Latest())
	assert.Equal(t, "m3", m.Unit)

	_, err = s.GetEntity(ctx, types.KindProduct, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = s.GetEntity(ctx, types.EntityKind("service"), "P1")
	assert.ErrorIs(t, err, types.ErrInvalidEntityKind)
}

func TestUpsertKeepsVectorWhenOmitted(t *testing.T) {
	s := setupTestDB(t)
	seedCatalog(t, s)
	ctx := context.Background()

	update := types.Entity{Kind: types.KindProduct, Code: "P1", Name: "Bàn làm việc gỗ sồi cao cấp"}
	require.NoError(t, s.UpsertEntity(ctx, &update))

	p, err := s.GetEntity(ctx, types.KindProduct, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Bàn làm việc gỗ sồi cao cấp", p.Name)
	assert.Equal(t, []float32{1, 0, 0}, p.Vector)
}

func TestMalformedPriceHistory(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertEntity(ctx, &types.Entity{Kind: types.KindMaterial, Code: "MX", Name: "Keo"}))
	_, err := s.db.Exec("UPDATE materials SET material_subprice = 'not json' WHERE id_sap = 'MX'")
	require.NoError(t, err)

	m, err := s.GetEntity(ctx, types.KindMaterial, "MX")
	require.NoError(t, err)
	assert.Empty(t, m.Prices)
	assert.Equal(t, 0.0, m.Prices.Latest())
}

func TestListEntitiesAndUpdateVector(t *testing.T) {
	s := setupTestDB(t)
	seedCatalog(t, s)
	ctx := context.Background()

	missing, err := s.ListEntities(ctx, types.KindProduct, true, 0)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "P4", missing[0].Code)

	require.NoError(t, s.UpdateEntityVector(ctx, types.KindProduct, "P4", []float32{0, 0, 1}))
	missing, err = s.ListEntities(ctx, types.KindProduct, true, 0)
	require.NoError(t, err)
	assert.Empty(t, missing)

	err = s.UpdateEntityVector(ctx, types.KindProduct, "nope", []float32{1})
	assert.ErrorIs(t, err, types.ErrNotFound)

	all, err := s.ListEntities(ctx, types.KindProduct, false, 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHeadTermCandidates(t *testing.T) {
	s := setupTestDB(t)
	seedCatalog(t, s)
	ctx := context.Background()

	got, err := s.HeadTermCandidates(ctx, types.KindProduct, "BÀN", nil)
	require.NoError(t, err)
	codes := entityCodes(got)
	assert.ElementsMatch(t, []string{"P1", "P3"}, codes)

	got, err = s.HeadTermCandidates(ctx, types.KindProduct, "bàn", &Filters{SubGroup: "phòng ăn"})
	require.NoError(t, err)
	assert.Equal(t, []string{"P3"}, entityCodes(got))

	// P4 has no vector and is never a candidate
	got, err = s.HeadTermCandidates(ctx, types.KindProduct, "tủ", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNearestEntities(t *testing.T) {
	s := setupTestDB(t)
	seedCatalog(t, s)
	ctx := context.Background()

	got, err := s.NearestEntities(ctx, types.KindProduct, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "P1", got[0].Entity.Code)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	assert.Equal(t, "P3", got[1].Entity.Code)

	// a longer query vector is truncated to the stored dimension
	got, err = s.NearestEntities(ctx, types.KindProduct, []float32{0, 1, 0, 5, 5}, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "P2", got[0].Entity.Code)

	got, err = s.NearestEntities(ctx, types.KindProduct, []float32{1, 0, 0}, 10, &Filters{Group: "ghế"})
	require.NoError(t, err)
	assert.Equal(t, []string{"P2"}, scoredCodes(got))
}

func TestKeywordSearch(t *testing.T) {
	s := setupTestDB(t)
	seedCatalog(t, s)
	ctx := context.Background()

	criteria := []Criterion{
		{Term: "sofa", Fields: []Field{FieldName, FieldGroup}},
		{Term: "đá", Fields: []Field{FieldMaterial}},
	}
	got, err := s.KeywordSearch(ctx, types.KindProduct, criteria, nil, 12)
	require.NoError(t, err)
	assert.Equal(t, []string{"P2", "P3"}, entityCodes(got))

	got, err = s.KeywordSearch(ctx, types.KindProduct, criteria, &Filters{Group: "bàn"}, 12)
	require.NoError(t, err)
	assert.Equal(t, []string{"P3"}, entityCodes(got))

	got, err = s.KeywordSearch(ctx, types.KindProduct, nil, nil, 12)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.KeywordSearch(ctx, types.KindMaterial, []Criterion{{Term: "m1", Fields: []Field{FieldCode}}}, nil, 15)
	require.NoError(t, err)
	assert.Equal(t, []string{"M1"}, entityCodes(got))
}

func TestSampleEntities(t *testing.T) {
	s := setupTestDB(t)
	seedCatalog(t, s)
	ctx := context.Background()

	products, err := s.SampleEntities(ctx, types.KindProduct, 10)
	require.NoError(t, err)
	assert.Len(t, products, 4)

	materials, err := s.SampleEntities(ctx, types.KindMaterial, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"M3", "M1"}, entityCodes(materials)) // name order: "Da bò Ý", "Gỗ sồi tự nhiên"
}

func TestProductsByMaterials(t *testing.T) {
	s := setupTestDB(t)
	seedCatalog(t, s)
	ctx := context.Background()

	got, err := s.ProductsByMaterials(ctx, []string{"M1", "M2"}, "", 20)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "P1", got[0].Product.Code)
	assert.Equal(t, 2, got[0].MatchedMaterials)
	// ties broken by product name ascending
	assert.Equal(t, "P3", got[1].Product.Code)
	assert.Equal(t, "P2", got[2].Product.Code)

	got, err = s.ProductsByMaterials(ctx, []string{"M1", "M2"}, "bàn", 20)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "P1", got[0].Product.Code)

	got, err = s.ProductsByMaterials(ctx, []string{"M1", "M2"}, "", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.ProductsByMaterials(ctx, nil, "", 20)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMaterialsByProducts(t *testing.T) {
	s := setupTestDB(t)
	seedCatalog(t, s)
	ctx := context.Background()

	got, err := s.MaterialsByProducts(ctx, []string{"P1", "P2"}, "", 15)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "M2", got[0].Material.Code)
	assert.Equal(t, 2, got[0].UsageCount)
	assert.InDelta(t, 5.0, got[0].TotalQuantity, 1e-9)

	got, err = s.MaterialsByProducts(ctx, []string{"P1", "P2"}, "gỗ", 15)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "M1", got[0].Material.Code)
}

func TestProductBOM(t *testing.T) {
	s := setupTestDB(t)
	seedCatalog(t, s)

	lines, err := s.ProductBOM(context.Background(), "P1")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "M1", lines[0].Material.Code)
	assert.Equal(t, "m3", lines[0].Unit)
	assert.Equal(t, "bộ", lines[1].Unit)

	var total float64
	for _, l := range lines {
		total += l.Quantity * l.Material.Prices.Latest()
	}
	assert.InDelta(t, 2*120+4*2, total, 1e-9)
}

func TestInteractions(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, typ := range []types.InteractionType{types.InteractionView, types.InteractionReject, types.InteractionView} {
		ev := &types.InteractionEvent{
			ID:           "ev" + string(rune('a'+i)),
			SessionID:    "s1",
			EntityKind:   types.KindProduct,
			EntityCode:   "P1",
			EntityVector: []float32{float32(i), 1},
			Type:         typ,
			Weight:       typ.Weight(),
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.InsertInteraction(ctx, ev))
	}
	// duplicate ids are ignored
	dup := &types.InteractionEvent{ID: "eva", SessionID: "s1", EntityKind: types.KindProduct, EntityCode: "P1",
		Type: types.InteractionView, Weight: 1, CreatedAt: base}
	require.NoError(t, s.InsertInteraction(ctx, dup))

	n, err := s.CountInteractions(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	events, err := s.RecentInteractions(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evc", events[0].ID)
	assert.Equal(t, types.InteractionReject, events[1].Type)
	assert.Equal(t, -1.0, events[1].Weight)
	assert.Equal(t, []float32{1, 1}, events[1].EntityVector)

	n, err = s.CountInteractions(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSimilarFeedback(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	records := []types.FeedbackRecord{
		{ID: "f1", SessionID: "s", Query: "bàn gỗ", QueryVector: []float32{1, 0}, Kind: types.KindProduct, Selected: []string{"P1"}, CreatedAt: now},
		{ID: "f2", SessionID: "s", Query: "bàn gỗ sồi", QueryVector: []float32{0.95, 0.05}, Kind: types.KindProduct, Selected: []string{"P1", "P3"}, CreatedAt: now},
		{ID: "f3", SessionID: "s", Query: "ghế", QueryVector: []float32{0, 1}, Kind: types.KindProduct, Selected: []string{"P2"}, CreatedAt: now},
		{ID: "f4", SessionID: "s", Query: "gỗ", QueryVector: []float32{1, 0}, Kind: types.KindMaterial, Selected: []string{"M1"}, CreatedAt: now},
		{ID: "f5", SessionID: "s", Query: "no vector", Kind: types.KindProduct, Selected: []string{"P4"}, CreatedAt: now},
	}
	for i := range records {
		require.NoError(t, s.UpsertFeedback(ctx, &records[i]))
	}

	matches, err := s.SimilarFeedback(ctx, types.KindProduct, []float32{1, 0}, 0.85, 20)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, []string{"P1"}, matches[0].Selected)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-6)
	assert.Equal(t, []string{"P1", "P3"}, matches[1].Selected)

	matches, err = s.SimilarFeedback(ctx, types.KindProduct, []float32{1, 0}, 0.85, 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	err = s.UpsertFeedback(ctx, &types.FeedbackRecord{Query: "x", Kind: types.KindProduct})
	assert.Error(t, err)
}

func TestTransaction(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertEntity(ctx, &types.Entity{Kind: types.KindProduct, Code: "T1", Name: "Kệ sách"}))
	require.NoError(t, tx.Rollback())

	_, err = s.GetEntity(ctx, types.KindProduct, "T1")
	assert.ErrorIs(t, err, types.ErrNotFound)

	tx, err = s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertEntity(ctx, &types.Entity{Kind: types.KindProduct, Code: "T1", Name: "Kệ sách"}))
	require.NoError(t, tx.Commit())

	p, err := s.GetEntity(ctx, types.KindProduct, "T1")
	require.NoError(t, err)
	assert.Equal(t, "Kệ sách", p.Name)
}

// A store with fixed-width vector columns fits every written vector,
// including writes made inside a transaction.
func TestFixedWidthVectorsAreAligned(t *testing.T) {
	s := setupTestDB(t)
	s.sqlCatalog.dim = 4
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertEntity(ctx, &types.Entity{Kind: types.KindProduct, Code: "W1", Name: "Kệ gỗ", Vector: []float32{1, 2}}))
	require.NoError(t, tx.UpsertEntity(ctx, &types.Entity{Kind: types.KindProduct, Code: "W2", Name: "Kệ sắt"}))
	require.NoError(t, tx.UpsertEntity(ctx, &types.Entity{Kind: types.KindProduct, Code: "W3", Name: "Kệ nhựa"}))
	require.NoError(t, tx.UpdateEntityVector(ctx, types.KindProduct, "W3", []float32{1, 2, 3, 4, 5, 6}))
	require.NoError(t, tx.Commit())

	tests := []struct {
		code string
		want []float32
	}{
		{"W1", []float32{1, 2, 0, 0}},
		{"W2", nil},
		{"W3", []float32{1, 2, 3, 4}},
	}
	for _, tt := range tests {
		e, err := s.GetEntity(ctx, types.KindProduct, tt.code)
		require.NoError(t, err)
		if tt.want == nil {
			assert.False(t, e.HasVector(), tt.code)
			continue
		}
		assert.Equal(t, tt.want, e.Vector, tt.code)
	}

	require.NoError(t, s.UpsertFeedback(ctx, &types.FeedbackRecord{
		ID: "fb-1", SessionID: "s1", Query: "kệ", Kind: types.KindProduct,
		Selected: []string{"W1"}, QueryVector: []float32{1},
	}))
	hits, err := s.SimilarFeedback(ctx, types.KindProduct, []float32{1, 0, 0, 0}, 0.9, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestReadsDoNotWaitForWriter(t *testing.T) {
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	seedCatalog(t, s)
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()
	require.NoError(t, tx.UpsertEntity(ctx, &types.Entity{Kind: types.KindProduct, Code: "T9", Name: "Kệ tivi"}))

	// the writer connection is held by tx
	readCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	n, err := s.CountInteractions(readCtx, "s1")
	require.NoError(t, err)
	assert.Zero(t, n)

	p, err := s.GetEntity(readCtx, types.KindProduct, "P1")
	require.NoError(t, err)
	assert.Equal(t, "Bàn làm việc gỗ sồi", p.Name)

	_, err = s.GetEntity(readCtx, types.KindProduct, "T9")
	assert.ErrorIs(t, err, types.ErrNotFound, "uncommitted rows stay invisible to readers")
}

func TestGetStatus(t *testing.T) {
	s := setupTestDB(t)
	seedCatalog(t, s)

	status, err := s.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, status.Products)
	assert.Equal(t, 3, status.Materials)
	assert.Equal(t, 5, status.Associations)
	assert.Equal(t, 3, status.ProductVectors)
	assert.Equal(t, 3, status.MaterialVectors)
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.True(t, status.Health.DatabaseAccessible)
	assert.True(t, status.Health.EmbeddingsAvailable)
	assert.Equal(t, "sqlite-"+BuildMode, status.Driver)
}

func TestRollbackLast(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	version, err := s.RollbackLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", version)
	assert.Equal(t, "1.0.0", currentVersion(ctx, s.db))

	// re-applying brings the schema back
	require.NoError(t, applyMigrations(ctx, s.db, sqliteDialect, SQLiteMigrations))
	assert.Equal(t, CurrentSchemaVersion, currentVersion(ctx, s.db))
}

func entityCodes(es []types.Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Code
	}
	return out
}

func scoredCodes(es []ScoredEntity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Entity.Code
	}
	return out
}
