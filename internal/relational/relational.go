// Package relational answers "products made from X" and "materials used in
// Y" by walking the product_materials association from a set of seed
// entities found by vector similarity.
package relational

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/dshills/catalog-mcp/internal/config"
	"github.com/dshills/catalog-mcp/internal/embedder"
	"github.com/dshills/catalog-mcp/internal/observability"
	"github.com/dshills/catalog-mcp/internal/storage"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// Result statuses. They double as the reported search method.
const (
	StatusMaterialToProduct = "cross_table_material_to_product"
	StatusProductToMaterial = "cross_table_product_to_material"
	StatusNoMaterialsFound  = "no_materials_found"
	StatusNoProductsFound   = "no_products_found"
	StatusNoProducts        = "cross_table_no_products"
	StatusNoMaterials       = "cross_table_no_materials"
	StatusEmbeddingFailed   = "embedding_failed"
	StatusError             = "cross_table_error"
)

// Config bounds the seed and result sizes
type Config struct {
	SeedMaterials  int
	SeedProducts   int
	ProductLimit   int
	MaterialLimit  int
	MinSimilarity  float64 // seeds below this are ignored
	ExplainedSeeds int
}

// DefaultConfig returns the production limits
func DefaultConfig() Config {
	return Config{
		SeedMaterials:  5,
		SeedProducts:   10,
		ProductLimit:   20,
		MaterialLimit:  15,
		MinSimilarity:  0.35,
		ExplainedSeeds: 3,
	}
}

// ConfigFrom derives the expander config from search settings
func ConfigFrom(cfg config.SearchConfig) Config {
	c := DefaultConfig()
	if cfg.CrossSeedMaterials > 0 {
		c.SeedMaterials = cfg.CrossSeedMaterials
	}
	if cfg.CrossSeedProducts > 0 {
		c.SeedProducts = cfg.CrossSeedProducts
	}
	c.MinSimilarity = cfg.MinSimilarity
	return c
}

// Result is a cross-entity answer. Candidates is empty for every status
// other than the two success statuses.
type Result struct {
	Status      string
	Kind        types.EntityKind // kind of the candidates
	Candidates  []types.SearchCandidate
	Seeds       []string // names of the matched seed entities
	Explanation string
}

// Expander resolves seeds and traverses the association table
type Expander struct {
	db  storage.Storage
	emb embedder.Embedder
	cfg Config
	log *observability.Logger
}

// New creates an Expander
func New(db storage.Storage, emb embedder.Embedder, cfg Config, log *observability.Logger) *Expander {
	return &Expander{
		db:  db,
		emb: emb,
		cfg: cfg,
		log: observability.OrNop(log).WithComponent("relational"),
	}
}

// ProductsUsingMaterial embeds materialQuery, takes the closest materials
// as seeds and returns the products that use them, most seeds first.
// params.Category narrows the products.
func (x *Expander) ProductsUsingMaterial(ctx context.Context, materialQuery string, params types.SearchParams) Result {
	res := Result{Kind: types.KindProduct}

	seeds, status := x.seeds(ctx, types.KindMaterial, materialQuery, x.cfg.SeedMaterials)
	if status != "" {
		res.Status = status
		return res
	}
	if len(seeds) == 0 {
		res.Status = StatusNoMaterialsFound
		return res
	}
	res.Seeds = names(seeds)

	usages, err := x.db.ProductsByMaterials(ctx, codes(seeds), params.Category, x.cfg.ProductLimit)
	if err != nil {
		x.log.Error().Err(err).Str("query", materialQuery).Msg("material to product traversal failed")
		res.Status = StatusError
		return res
	}
	if len(usages) == 0 {
		res.Status = StatusNoProducts
		return res
	}

	res.Candidates = make([]types.SearchCandidate, len(usages))
	for i, u := range usages {
		c := types.NewCandidate(u.Product, UsageScore(u.MatchedMaterials))
		c.UsageCount = u.MatchedMaterials
		c.OriginalRank = i + 1
		c.FinalRank = i + 1
		c.FinalScore = c.BaseScore
		res.Candidates[i] = c
	}
	res.Status = StatusMaterialToProduct
	res.Explanation = fmt.Sprintf("Products using: %s", strings.Join(head(res.Seeds, x.cfg.ExplainedSeeds), ", "))

	x.log.Info().
		Int("seeds", len(seeds)).
		Int("products", len(usages)).
		Msg("material to product expansion")
	return res
}

// MaterialsForProduct embeds productQuery, takes the closest products as
// seeds and returns the materials they use, most used first.
// params.MaterialGroup narrows the materials.
func (x *Expander) MaterialsForProduct(ctx context.Context, productQuery string, params types.SearchParams) Result {
	res := Result{Kind: types.KindMaterial}

	seeds, status := x.seeds(ctx, types.KindProduct, productQuery, x.cfg.SeedProducts)
	if status != "" {
		res.Status = status
		return res
	}
	if len(seeds) == 0 {
		res.Status = StatusNoProductsFound
		return res
	}
	res.Seeds = names(seeds)

	usages, err := x.db.MaterialsByProducts(ctx, codes(seeds), params.MaterialGroup, x.cfg.MaterialLimit)
	if err != nil {
		x.log.Error().Err(err).Str("query", productQuery).Msg("product to material traversal failed")
		res.Status = StatusError
		return res
	}
	if len(usages) == 0 {
		res.Status = StatusNoMaterials
		return res
	}

	res.Candidates = make([]types.SearchCandidate, len(usages))
	for i, u := range usages {
		c := types.NewCandidate(u.Material, UsageScore(u.UsageCount))
		c.UsageCount = u.UsageCount
		c.TotalQuantity = u.TotalQuantity
		c.OriginalRank = i + 1
		c.FinalRank = i + 1
		c.FinalScore = c.BaseScore
		res.Candidates[i] = c
	}
	res.Status = StatusProductToMaterial
	res.Explanation = fmt.Sprintf("Materials commonly used for: %s", strings.Join(head(res.Seeds, x.cfg.ExplainedSeeds), ", "))

	x.log.Info().
		Int("seeds", len(seeds)).
		Int("materials", len(usages)).
		Msg("product to material expansion")
	return res
}

// seeds returns the nearest entities of kind above the similarity floor.
// A non-empty status reports a failure.
func (x *Expander) seeds(ctx context.Context, kind types.EntityKind, query string, n int) ([]storage.ScoredEntity, string) {
	vector, err := embedder.Vector(ctx, x.emb, query)
	if err != nil {
		x.log.Warn().Err(err).Str("query", query).Msg("seed embedding failed")
		return nil, StatusEmbeddingFailed
	}

	scored, err := x.db.NearestEntities(ctx, kind, vector, n, nil)
	if err != nil {
		x.log.Error().Err(err).Str("kind", string(kind)).Msg("seed lookup failed")
		return nil, StatusError
	}

	kept := scored[:0]
	for _, s := range scored {
		if s.Similarity >= x.cfg.MinSimilarity {
			kept = append(kept, s)
		}
	}
	return kept, ""
}

// UsageScore maps a usage count onto a base score: 0.5 plus 0.1 per use,
// capped at 1
func UsageScore(count int) float64 {
	return math.Min(1, 0.5+0.1*float64(count))
}

func codes(seeds []storage.ScoredEntity) []string {
	out := make([]string, len(seeds))
	for i, s := range seeds {
		out[i] = s.Entity.Code
	}
	return out
}

func names(seeds []storage.ScoredEntity) []string {
	out := make([]string, len(seeds))
	for i, s := range seeds {
		out[i] = s.Entity.Name
	}
	return out
}

func head(list []string, n int) []string {
	if n > 0 && len(list) > n {
		return list[:n]
	}
	return list
}
