package indexer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dshills/catalog-mcp/pkg/types"
)

// Defaults written for unclassified rows
const (
	Unclassified      = "Chưa phân loại"
	UnknownMaterial   = "Chưa xác định"
	placeholderPrefix = "Vật liệu mới "
	placeholderGroup  = "Chưa phân loại"
)

// ErrMissingColumns is returned when a CSV header lacks required columns
var ErrMissingColumns = errors.New("missing required columns")

// ImportStats reports the outcome of a CSV import
type ImportStats struct {
	Total            int      `json:"total"`
	Imported         int      `json:"imported"`
	Skipped          int      `json:"skipped"`
	CreatedMaterials int      `json:"auto_created_materials,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

func (s *ImportStats) fail(row int, format string, args ...interface{}) {
	if len(s.Errors) < maxErrorMessages {
		s.Errors = append(s.Errors, fmt.Sprintf("row %d: %s", row, fmt.Sprintf(format, args...)))
	}
}

// ImportProducts upserts products from CSV. Required columns are
// headcode and product_name; category, sub_category, material_primary,
// unit, project, project_id and image_url are optional.
func (idx *Indexer) ImportProducts(ctx context.Context, r io.Reader) (*ImportStats, error) {
	records, err := readCSV(r, "headcode", "product_name")
	if err != nil {
		return nil, err
	}

	entities := make([]types.Entity, 0, len(records))
	stats := &ImportStats{Total: len(records)}
	for _, rec := range records {
		e := types.Entity{
			Kind:            types.KindProduct,
			Code:            cleanID(rec.get("headcode")),
			Name:            rec.get("product_name"),
			Group:           rec.getOr("category", Unclassified),
			SubGroup:        rec.getOr("sub_category", Unclassified),
			PrimaryMaterial: rec.getOr("material_primary", UnknownMaterial),
			Unit:            rec.get("unit"),
			Project:         rec.get("project"),
			ProjectID:       rec.get("project_id"),
			ImageURL:        rec.get("image_url"),
		}
		if e.Code == "" || e.Name == "" {
			stats.fail(rec.line, "missing headcode or product_name")
			continue
		}
		entities = append(entities, e)
	}
	if err := idx.writeEntities(ctx, entities, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// ImportMaterials upserts materials from CSV. Required columns are id_sap,
// material_name and material_group. material_subprice holds the price
// history as JSON; malformed histories are dropped with a row error.
func (idx *Indexer) ImportMaterials(ctx context.Context, r io.Reader) (*ImportStats, error) {
	records, err := readCSV(r, "id_sap", "material_name", "material_group")
	if err != nil {
		return nil, err
	}

	entities := make([]types.Entity, 0, len(records))
	stats := &ImportStats{Total: len(records)}
	for _, rec := range records {
		e := types.Entity{
			Kind:     types.KindMaterial,
			Code:     cleanID(rec.get("id_sap")),
			Name:     rec.get("material_name"),
			Group:    rec.get("material_group"),
			SubGroup: rec.getOr("material_subgroup", Unclassified),
			Unit:     rec.get("unit"),
			ImageURL: rec.get("image_url"),
		}
		if e.Code == "" || e.Name == "" || e.Group == "" {
			stats.fail(rec.line, "missing id_sap, material_name or material_group")
			continue
		}
		prices, err := types.ParsePriceHistory(rec.get("material_subprice"))
		if err != nil {
			idx.log.Warn().Str("id_sap", e.Code).Err(err).Msg("malformed price history ignored")
			stats.fail(rec.line, "malformed material_subprice")
		}
		e.Prices = prices
		entities = append(entities, e)
	}
	if err := idx.writeEntities(ctx, entities, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// ImportAssociations upserts the bill of materials from CSV with columns
// product_headcode, material_id_sap, quantity and unit. Rows naming an
// unknown product are rejected; unknown materials are created as
// placeholders so the association is kept.
func (idx *Indexer) ImportAssociations(ctx context.Context, r io.Reader) (*ImportStats, error) {
	records, err := readCSV(r, "product_headcode")
	if err != nil {
		return nil, err
	}

	products, err := idx.knownCodes(ctx, types.KindProduct)
	if err != nil {
		return nil, err
	}
	materials, err := idx.knownCodes(ctx, types.KindMaterial)
	if err != nil {
		return nil, err
	}

	stats := &ImportStats{Total: len(records)}
	var (
		placeholders []types.Entity
		assocs       []types.Association
	)
	for _, rec := range records {
		product := cleanID(rec.get("product_headcode"))
		if product == "" {
			stats.fail(rec.line, "missing product_headcode")
			continue
		}
		if !products[product] {
			stats.fail(rec.line, "product %q does not exist", product)
			continue
		}
		material := cleanID(rec.get("material_id_sap"))
		if material == "" {
			stats.Skipped++
			continue
		}
		qty, err := parseQuantity(rec.get("quantity"))
		if err != nil {
			stats.fail(rec.line, "invalid quantity %q", rec.get("quantity"))
			continue
		}
		if !materials[material] {
			materials[material] = true
			placeholders = append(placeholders, types.Entity{
				Kind:     types.KindMaterial,
				Code:     material,
				Name:     placeholderPrefix + material,
				Group:    placeholderGroup,
				SubGroup: placeholderGroup,
			})
		}
		assocs = append(assocs, types.Association{
			ProductCode:  product,
			MaterialCode: material,
			Quantity:     qty,
			Unit:         rec.get("unit"),
		})
	}

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range placeholders {
		if err := tx.UpsertEntity(ctx, &placeholders[i]); err != nil {
			return nil, err
		}
	}
	for _, a := range assocs {
		if err := tx.UpsertAssociation(ctx, a); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	stats.Imported = len(assocs)
	stats.CreatedMaterials = len(placeholders)
	idx.log.Info().
		Int("associations", stats.Imported).
		Int("placeholders", stats.CreatedMaterials).
		Int("skipped", stats.Skipped).
		Msg("bill of materials imported")
	return stats, nil
}

// writeEntities upserts every entity in one transaction
func (idx *Indexer) writeEntities(ctx context.Context, entities []types.Entity, stats *ImportStats) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range entities {
		if err := tx.UpsertEntity(ctx, &entities[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	stats.Imported = len(entities)
	idx.log.Info().Str("kind", string(entities[0].Kind)).Int("rows", len(entities)).Msg("catalog rows imported")
	return nil
}

func (idx *Indexer) knownCodes(ctx context.Context, kind types.EntityKind) (map[string]bool, error) {
	rows, err := idx.storage.ListEntities(ctx, kind, false, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s codes: %w", kind, err)
	}
	out := make(map[string]bool, len(rows))
	for _, e := range rows {
		out[e.Code] = true
	}
	return out, nil
}

type csvRecord struct {
	line   int
	fields map[string]string
}

func (r csvRecord) get(col string) string {
	return strings.TrimSpace(r.fields[col])
}

func (r csvRecord) getOr(col, def string) string {
	if v := r.get(col); v != "" {
		return v
	}
	return def
}

// readCSV reads a headed CSV. Header names are trimmed and lowercased.
func readCSV(r io.Reader, required ...string) ([]csvRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, h := range header {
		cols[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		present[cols[i]] = true
	}
	var missing []string
	for _, req := range required {
		if !present[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var out []csvRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		rec := csvRecord{line: line, fields: make(map[string]string, len(cols))}
		for i, v := range row {
			if i < len(cols) {
				rec.fields[cols[i]] = v
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// cleanID trims a code and drops the ".0" suffix spreadsheets add to
// numeric codes
func cleanID(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "nan") {
		return ""
	}
	return strings.TrimSuffix(s, ".0")
}

func parseQuantity(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}
