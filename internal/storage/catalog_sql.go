package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/catalog-mcp/internal/observability"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// sqlCatalog holds the statements shared by the SQLite and Postgres stores.
// Each method takes the querier so the same code runs inside transactions.
type sqlCatalog struct {
	d   dialect
	log *observability.Logger
	dim int // fixed vector column width, 0 when columns are untyped
}

// encodeVector fits v to the column width before encoding. Empty vectors
// stay NULL.
func (c sqlCatalog) encodeVector(v []float32) interface{} {
	if c.dim > 0 && len(v) > 0 {
		v = types.AlignVector(v, c.dim)
	}
	return c.d.encodeVector(v)
}

// Catalog writes

func (c sqlCatalog) upsertEntity(ctx context.Context, q querier, e *types.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	vec := c.encodeVector(e.Vector)

	var query string
	var args []interface{}
	switch e.Kind {
	case types.KindProduct:
		query = fmt.Sprintf(`
			INSERT INTO products (headcode, product_name, category, sub_category, material_primary,
			                      project, project_id, unit, image_url, description_embedding, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, %s, ?)
			ON CONFLICT (headcode) DO UPDATE SET
				product_name = excluded.product_name,
				category = excluded.category,
				sub_category = excluded.sub_category,
				material_primary = excluded.material_primary,
				project = excluded.project,
				project_id = excluded.project_id,
				unit = excluded.unit,
				image_url = excluded.image_url,
				description_embedding = COALESCE(excluded.description_embedding, products.description_embedding),
				updated_at = excluded.updated_at
		`, c.d.vectorParam())
		args = []interface{}{
			e.Code, e.Name, nullIfEmpty(e.Group), nullIfEmpty(e.SubGroup), nullIfEmpty(e.PrimaryMaterial),
			nullIfEmpty(e.Project), nullIfEmpty(e.ProjectID), nullIfEmpty(e.Unit), nullIfEmpty(e.ImageURL), vec, now,
		}
	case types.KindMaterial:
		var prices interface{}
		if len(e.Prices) > 0 {
			prices = e.Prices.JSON()
		}
		query = fmt.Sprintf(`
			INSERT INTO materials (id_sap, material_name, material_group, material_subgroup,
			                       unit, image_url, material_subprice, description_embedding, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, %s, ?)
			ON CONFLICT (id_sap) DO UPDATE SET
				material_name = excluded.material_name,
				material_group = excluded.material_group,
				material_subgroup = excluded.material_subgroup,
				unit = excluded.unit,
				image_url = excluded.image_url,
				material_subprice = excluded.material_subprice,
				description_embedding = COALESCE(excluded.description_embedding, materials.description_embedding),
				updated_at = excluded.updated_at
		`, c.d.vectorParam())
		args = []interface{}{
			e.Code, e.Name, nullIfEmpty(e.Group), nullIfEmpty(e.SubGroup),
			nullIfEmpty(e.Unit), nullIfEmpty(e.ImageURL), prices, vec, now,
		}
	}

	if _, err := q.ExecContext(ctx, c.d.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", e.Kind, e.Code, err)
	}
	return nil
}

func (c sqlCatalog) updateEntityVector(ctx context.Context, q querier, kind types.EntityKind, code string, vector []float32) error {
	spec, err := specFor(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET description_embedding = %s, updated_at = ? WHERE %s = ?",
		spec.table, c.d.vectorParam(), spec.code)
	res, err := q.ExecContext(ctx, c.d.rebind(query), c.encodeVector(vector), time.Now().UTC(), code)
	if err != nil {
		return fmt.Errorf("failed to update vector for %s %s: %w", kind, code, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s %s: %w", kind, code, types.ErrNotFound)
	}
	return nil
}

func (c sqlCatalog) upsertAssociation(ctx context.Context, q querier, a types.Association) error {
	if a.ProductCode == "" || a.MaterialCode == "" {
		return types.ErrMissingEntityCode
	}
	query := `
		INSERT INTO product_materials (product_headcode, material_id_sap, quantity, unit)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (product_headcode, material_id_sap) DO UPDATE SET
			quantity = excluded.quantity,
			unit = excluded.unit
	`
	if _, err := q.ExecContext(ctx, c.d.rebind(query), a.ProductCode, a.MaterialCode, a.Quantity, nullIfEmpty(a.Unit)); err != nil {
		return fmt.Errorf("failed to upsert association %s/%s: %w", a.ProductCode, a.MaterialCode, err)
	}
	return nil
}

// Catalog reads

func (c sqlCatalog) getEntity(ctx context.Context, q querier, kind types.EntityKind, code string) (*types.Entity, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", spec.columns("", true), spec.table, spec.code)
	e, err := scanEntity(q.QueryRowContext(ctx, c.d.rebind(query), code), kind, c.d, c.log)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, code, types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c sqlCatalog) listEntities(ctx context.Context, q querier, kind types.EntityKind, onlyMissingVector bool, limit int) ([]types.Entity, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s", spec.columns("", !onlyMissingVector), spec.table)
	if onlyMissingVector {
		query += " WHERE description_embedding IS NULL"
	}
	query += fmt.Sprintf(" ORDER BY %s", spec.code)
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return c.queryEntities(ctx, q, kind, query, args...)
}

// queryEntities runs a query selecting the uniform column list
func (c sqlCatalog) queryEntities(ctx context.Context, q querier, kind types.EntityKind, query string, args ...interface{}) ([]types.Entity, error) {
	rows, err := q.QueryContext(ctx, c.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Entity
	for rows.Next() {
		e, err := scanEntity(rows, kind, c.d, c.log)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c sqlCatalog) productBOM(ctx context.Context, q querier, headcode string) ([]BOMLine, error) {
	spec := tableSpecs[types.KindMaterial]
	query := fmt.Sprintf(`
		SELECT %s, pm.quantity, pm.unit
		FROM product_materials pm
		JOIN materials m ON m.id_sap = pm.material_id_sap
		WHERE pm.product_headcode = ?
		ORDER BY m.material_name
	`, spec.columns("m", false))

	rows, err := q.QueryContext(ctx, c.d.rebind(query), headcode)
	if err != nil {
		return nil, fmt.Errorf("failed to query materials of %s: %w", headcode, err)
	}
	defer func() { _ = rows.Close() }()

	var lines []BOMLine
	for rows.Next() {
		var qty sql.NullFloat64
		var unit sql.NullString
		m, err := scanEntity(rows, types.KindMaterial, c.d, c.log, &qty, &unit)
		if err != nil {
			return nil, err
		}
		lineUnit := unit.String
		if lineUnit == "" {
			lineUnit = m.Unit
		}
		lines = append(lines, BOMLine{Material: m, Quantity: qty.Float64, Unit: lineUnit})
	}
	return lines, rows.Err()
}

// Feedback operations

func (c sqlCatalog) insertInteraction(ctx context.Context, q querier, ev *types.InteractionEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO user_preferences (id, session_id, entity_kind, entity_code, product_vector,
		                              interaction_type, weight, created_at)
		VALUES (?, ?, ?, ?, %s, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, c.d.vectorParam())
	_, err := q.ExecContext(ctx, c.d.rebind(query),
		ev.ID, ev.SessionID, string(ev.EntityKind), ev.EntityCode, c.encodeVector(ev.EntityVector),
		string(ev.Type), ev.Weight, ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	return nil
}

func (c sqlCatalog) recentInteractions(ctx context.Context, q querier, sessionID string, limit int) ([]types.InteractionEvent, error) {
	query := `
		SELECT id, session_id, entity_kind, entity_code, product_vector, interaction_type, weight, created_at
		FROM user_preferences
		WHERE session_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?
	`
	rows, err := q.QueryContext(ctx, c.d.rebind(query), sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []types.InteractionEvent
	for rows.Next() {
		var ev types.InteractionEvent
		var kind, typ string
		var vector []byte
		if err := rows.Scan(&ev.ID, &ev.SessionID, &kind, &ev.EntityCode, &vector, &typ, &ev.Weight, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		ev.EntityKind = types.EntityKind(kind)
		ev.Type = types.InteractionType(typ)
		if len(vector) > 0 {
			ev.EntityVector = c.d.decodeVector(vector)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (c sqlCatalog) countInteractions(ctx context.Context, q querier, sessionID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, c.d.rebind("SELECT COUNT(*) FROM user_preferences WHERE session_id = ?"), sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count interactions: %w", err)
	}
	return n, nil
}

func (c sqlCatalog) upsertFeedback(ctx context.Context, q querier, r *types.FeedbackRecord) error {
	if r.ID == "" {
		return fmt.Errorf("%w: feedback id", types.ErrMissingEntityCode)
	}
	selected, err := json.Marshal(nonNil(r.Selected))
	if err != nil {
		return err
	}
	rejected, err := json.Marshal(nonNil(r.Rejected))
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO user_feedback (id, session_id, query, query_embedding, search_type,
		                           selected_items, rejected_items, created_at)
		VALUES (?, ?, ?, %s, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			query_embedding = COALESCE(excluded.query_embedding, user_feedback.query_embedding),
			selected_items = excluded.selected_items,
			rejected_items = excluded.rejected_items
	`, c.d.vectorParam())
	_, err = q.ExecContext(ctx, c.d.rebind(query),
		r.ID, r.SessionID, r.Query, c.encodeVector(r.QueryVector), string(r.Kind),
		string(selected), string(rejected), r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert feedback: %w", err)
	}
	return nil
}

// decodeItems parses a stored JSON list of entity codes. Malformed rows
// contribute nothing.
func decodeItems(raw string) []string {
	if raw == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	return items
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Status

func (c sqlCatalog) countStatus(ctx context.Context, q querier, status *Status) error {
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM products", &status.Products},
		{"SELECT COUNT(*) FROM materials", &status.Materials},
		{"SELECT COUNT(*) FROM product_materials", &status.Associations},
		{"SELECT COUNT(*) FROM products WHERE description_embedding IS NOT NULL", &status.ProductVectors},
		{"SELECT COUNT(*) FROM materials WHERE description_embedding IS NOT NULL", &status.MaterialVectors},
		{"SELECT COUNT(*) FROM user_preferences", &status.Interactions},
		{"SELECT COUNT(*) FROM user_feedback", &status.FeedbackRecords},
	}
	for _, cnt := range counts {
		if err := q.QueryRowContext(ctx, cnt.query).Scan(cnt.dest); err != nil {
			return fmt.Errorf("status query %q: %w", cnt.query, err)
		}
	}
	status.SchemaVersion = currentVersion(ctx, q)
	status.Health.DatabaseAccessible = true
	status.Health.EmbeddingsAvailable = status.ProductVectors+status.MaterialVectors > 0
	status.CheckedAt = time.Now().UTC()
	return nil
}
