package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/catalog-mcp/pkg/types"
)

// Markups are the cost shares applied on top of the material cost
type Markups struct {
	Labor    float64 `json:"labor"`
	Overhead float64 `json:"overhead"`
	Profit   float64 `json:"profit"`
}

// DefaultMarkups returns 20% labor, 15% overhead and 25% profit
func DefaultMarkups() Markups {
	return Markups{Labor: 0.20, Overhead: 0.15, Profit: 0.25}
}

// CostLine is one priced row of a bill of materials
type CostLine struct {
	MaterialCode string  `json:"id_sap"`
	MaterialName string  `json:"material_name"`
	Group        string  `json:"material_group,omitempty"`
	SubGroup     string  `json:"material_subgroup,omitempty"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit,omitempty"`
	UnitPrice    float64 `json:"unit_price"`
	LineTotal    float64 `json:"total_cost"`
	ImageURL     string  `json:"image_url,omitempty"`
}

// CostReport prices a product from its bill of materials
type CostReport struct {
	Headcode      string     `json:"headcode"`
	ProductName   string     `json:"product_name"`
	Category      string     `json:"category,omitempty"`
	Lines         []CostLine `json:"materials"`
	MaterialCount int        `json:"material_count"`
	MaterialCost  float64    `json:"material_cost"`
	LaborCost     float64    `json:"labor_cost"`
	OverheadCost  float64    `json:"overhead_cost"`
	ProfitMargin  float64    `json:"profit_margin"`
	TotalCost     float64    `json:"total_cost"`
}

// HasBOM reports whether any material rows were found
func (r *CostReport) HasBOM() bool {
	return r != nil && len(r.Lines) > 0
}

// ProductCost prices headcode: each line is quantity times the material's
// latest price, and the total adds the configured markups to the summed
// material cost. A product without associations yields an empty report.
func (e *Engine) ProductCost(ctx context.Context, headcode string) (*CostReport, error) {
	headcode = strings.TrimSpace(headcode)
	if headcode == "" {
		return nil, types.ErrMissingEntityCode
	}

	product, err := e.db.GetEntity(ctx, types.KindProduct, headcode)
	if err != nil {
		return nil, err
	}
	bom, err := e.db.ProductBOM(ctx, headcode)
	if err != nil {
		return nil, fmt.Errorf("load materials of %s: %w", headcode, err)
	}

	report := &CostReport{
		Headcode:    product.Code,
		ProductName: product.Name,
		Category:    product.Group,
		Lines:       make([]CostLine, 0, len(bom)),
	}
	for _, line := range bom {
		price := line.Material.Prices.Latest()
		total := line.Quantity * price
		report.Lines = append(report.Lines, CostLine{
			MaterialCode: line.Material.Code,
			MaterialName: line.Material.Name,
			Group:        line.Material.Group,
			SubGroup:     line.Material.SubGroup,
			Quantity:     line.Quantity,
			Unit:         line.Unit,
			UnitPrice:    price,
			LineTotal:    total,
			ImageURL:     line.Material.ImageURL,
		})
		report.MaterialCost += total
	}
	report.MaterialCount = len(report.Lines)
	e.cfg.Markups.apply(report)

	e.log.Debug().
		Str("headcode", headcode).
		Int("materials", report.MaterialCount).
		Float64("material_cost", report.MaterialCost).
		Msg("product cost computed")
	return report, nil
}

func (m Markups) apply(r *CostReport) {
	r.LaborCost = r.MaterialCost * m.Labor
	r.OverheadCost = r.MaterialCost * m.Overhead
	r.ProfitMargin = r.MaterialCost * m.Profit
	r.TotalCost = r.MaterialCost + r.LaborCost + r.OverheadCost + r.ProfitMargin
}

// costItems lists the priced materials as response items in BOM order
func costItems(r *CostReport) []Item {
	items := make([]Item, len(r.Lines))
	for i, l := range r.Lines {
		items[i] = Item{
			EntityCode:    l.MaterialCode,
			DisplayName:   l.MaterialName,
			Kind:          types.KindMaterial,
			Group:         l.Group,
			SubGroup:      l.SubGroup,
			Unit:          l.Unit,
			ImageURL:      l.ImageURL,
			LatestPrice:   l.UnitPrice,
			TotalQuantity: l.Quantity,
			OriginalRank:  i + 1,
			FinalRank:     i + 1,
		}
	}
	return items
}
