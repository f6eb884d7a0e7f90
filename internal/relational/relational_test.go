package relational

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/catalog-mcp/internal/embedder/embeddertest"
	"github.com/dshills/catalog-mcp/internal/storage"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// setupCatalog seeds three products and three materials:
//
//	P1 uses M1 (2), M2 (4)
//	P2 uses M2 (1), M3 (3)
//	P3 uses M1 (1)
func setupCatalog(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, e := range []types.Entity{
		{Kind: types.KindProduct, Code: "P1", Name: "Bàn làm việc gỗ sồi", Group: "Bàn", Vector: []float32{1, 0, 0}},
		{Kind: types.KindProduct, Code: "P2", Name: "Ghế sofa da", Group: "Ghế", Vector: []float32{0, 1, 0}},
		{Kind: types.KindProduct, Code: "P3", Name: "Bàn ăn mặt đá", Group: "Bàn", Vector: []float32{0.7, 0.7, 0}},
		{Kind: types.KindMaterial, Code: "M1", Name: "Gỗ sồi tự nhiên", Group: "Gỗ", Vector: []float32{1, 0, 0}},
		{Kind: types.KindMaterial, Code: "M2", Name: "Vít inox", Group: "Phụ kiện", Vector: []float32{0, 0, 1}},
		{Kind: types.KindMaterial, Code: "M3", Name: "Da bò Ý", Group: "Da", Vector: []float32{0, 1, 0}},
	} {
		e := e
		require.NoError(t, db.UpsertEntity(ctx, &e))
	}
	for _, a := range []types.Association{
		{ProductCode: "P1", MaterialCode: "M1", Quantity: 2},
		{ProductCode: "P1", MaterialCode: "M2", Quantity: 4},
		{ProductCode: "P2", MaterialCode: "M2", Quantity: 1},
		{ProductCode: "P2", MaterialCode: "M3", Quantity: 3},
		{ProductCode: "P3", MaterialCode: "M1", Quantity: 1},
	} {
		require.NoError(t, db.UpsertAssociation(ctx, a))
	}
	return db
}

func candidateCodes(cands []types.SearchCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Entity.Code
	}
	return out
}

func testEmbedder() *embeddertest.Static {
	return embeddertest.New(map[string][]float32{
		"gỗ sồi":   {1, 0, 0},
		"ghế sofa": {0, 1, 0},
		"oak":      {-1, -1, -1},
	})
}

func TestUsageScore(t *testing.T) {
	tests := []struct {
		count int
		want  float64
	}{
		{0, 0.5},
		{1, 0.6},
		{3, 0.8},
		{5, 1},
		{9, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, UsageScore(tt.count), 1e-9)
	}
}

func TestProductsUsingMaterial(t *testing.T) {
	db := setupCatalog(t)
	x := New(db, testEmbedder(), DefaultConfig(), nil)
	ctx := context.Background()

	res := x.ProductsUsingMaterial(ctx, "gỗ sồi", types.SearchParams{})
	assert.Equal(t, StatusMaterialToProduct, res.Status)
	assert.Equal(t, types.KindProduct, res.Kind)
	assert.Equal(t, []string{"Gỗ sồi tự nhiên"}, res.Seeds)
	assert.Equal(t, []string{"P1", "P3"}, candidateCodes(res.Candidates))
	assert.InDelta(t, 0.6, res.Candidates[0].BaseScore, 1e-9)
	assert.Equal(t, 1, res.Candidates[0].UsageCount)
	assert.Equal(t, 2, res.Candidates[1].FinalRank)
	assert.Contains(t, res.Explanation, "Gỗ sồi tự nhiên")
}

func TestProductsUsingMaterialCategoryFilter(t *testing.T) {
	db := setupCatalog(t)
	x := New(db, testEmbedder(), DefaultConfig(), nil)

	res := x.ProductsUsingMaterial(context.Background(), "gỗ sồi", types.SearchParams{Category: "ghế"})
	assert.Equal(t, StatusNoProducts, res.Status)
	assert.Empty(t, res.Candidates)
	assert.NotEmpty(t, res.Seeds)
}

func TestProductsUsingMaterialNoSeeds(t *testing.T) {
	db := setupCatalog(t)
	x := New(db, testEmbedder(), DefaultConfig(), nil)

	res := x.ProductsUsingMaterial(context.Background(), "oak", types.SearchParams{})
	assert.Equal(t, StatusNoMaterialsFound, res.Status)
	assert.Empty(t, res.Candidates)
	assert.Empty(t, res.Seeds)
}

func TestMaterialsForProduct(t *testing.T) {
	db := setupCatalog(t)
	x := New(db, testEmbedder(), DefaultConfig(), nil)
	ctx := context.Background()

	res := x.MaterialsForProduct(ctx, "ghế sofa", types.SearchParams{})
	assert.Equal(t, StatusProductToMaterial, res.Status)
	assert.Equal(t, types.KindMaterial, res.Kind)
	assert.Equal(t, []string{"Ghế sofa da", "Bàn ăn mặt đá"}, res.Seeds)
	// equal usage, so total quantity then name decide
	assert.Equal(t, []string{"M3", "M1", "M2"}, candidateCodes(res.Candidates))
	assert.InDelta(t, 3.0, res.Candidates[0].TotalQuantity, 1e-9)

	res = x.MaterialsForProduct(ctx, "ghế sofa", types.SearchParams{MaterialGroup: "da"})
	assert.Equal(t, []string{"M3"}, candidateCodes(res.Candidates))

	res = x.MaterialsForProduct(ctx, "ghế sofa", types.SearchParams{MaterialGroup: "kính"})
	assert.Equal(t, StatusNoMaterials, res.Status)

	res = x.MaterialsForProduct(ctx, "oak", types.SearchParams{})
	assert.Equal(t, StatusNoProductsFound, res.Status)
}

func TestExpanderFailures(t *testing.T) {
	db := setupCatalog(t)
	emb := testEmbedder()
	emb.Err = errors.New("ollama down")
	x := New(db, emb, DefaultConfig(), nil)
	ctx := context.Background()

	assert.Equal(t, StatusEmbeddingFailed, x.ProductsUsingMaterial(ctx, "gỗ sồi", types.SearchParams{}).Status)
	assert.Equal(t, StatusEmbeddingFailed, x.MaterialsForProduct(ctx, "ghế sofa", types.SearchParams{}).Status)

	x = New(db, testEmbedder(), DefaultConfig(), nil)
	require.NoError(t, db.Close())
	assert.Equal(t, StatusError, x.ProductsUsingMaterial(ctx, "gỗ sồi", types.SearchParams{}).Status)
}
