package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/dshills/catalog-mcp/pkg/types"
)

// PostgresStorage implements Storage on Postgres with the pgvector
// extension. Similarity is 1 - (a <=> b), the cosine distance operator.
type PostgresStorage struct {
	db        *sql.DB
	dimension int
	sqlCatalog
}

// PostgresOptions configures the connection pool
type PostgresOptions struct {
	Dimension       int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewPostgresStorage connects to dsn, verifies the connection and applies
// pending migrations
func NewPostgresStorage(ctx context.Context, dsn string, popts PostgresOptions, opts ...Option) (*PostgresStorage, error) {
	if popts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: vector dimension must be positive", types.ErrConfiguration)
	}
	o := buildOptions(opts)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if popts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(popts.MaxOpenConns)
	}
	if popts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(popts.MaxIdleConns)
	}
	db.SetConnMaxLifetime(popts.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", types.ErrTransientIO, err)
	}

	if err := applyMigrations(ctx, db, postgresDialect, PostgresMigrations(popts.Dimension)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &PostgresStorage{
		db:         db,
		dimension:  popts.Dimension,
		sqlCatalog: sqlCatalog{d: postgresDialect, log: o.logger.WithComponent("storage"), dim: popts.Dimension},
	}, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// RollbackLast rolls back the most recent schema migration
func (s *PostgresStorage) RollbackLast(ctx context.Context) (string, error) {
	return rollbackMigration(ctx, s.db, s.d, PostgresMigrations(s.dimension))
}

func (s *PostgresStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, c: s.sqlCatalog}, nil
}

// align fits a query vector to the column dimension
func (s *PostgresStorage) align(v []float32) string {
	return toVectorLiteral(types.AlignVector(v, s.dimension))
}

func (s *PostgresStorage) UpsertEntity(ctx context.Context, e *types.Entity) error {
	return s.upsertEntity(ctx, s.db, e)
}

func (s *PostgresStorage) UpsertAssociation(ctx context.Context, a types.Association) error {
	return s.upsertAssociation(ctx, s.db, a)
}

func (s *PostgresStorage) UpdateEntityVector(ctx context.Context, kind types.EntityKind, code string, vector []float32) error {
	return s.updateEntityVector(ctx, s.db, kind, code, vector)
}

func (s *PostgresStorage) GetEntity(ctx context.Context, kind types.EntityKind, code string) (*types.Entity, error) {
	return s.getEntity(ctx, s.db, kind, code)
}

func (s *PostgresStorage) ListEntities(ctx context.Context, kind types.EntityKind, onlyMissingVector bool, limit int) ([]types.Entity, error) {
	return s.listEntities(ctx, s.db, kind, onlyMissingVector, limit)
}

// filterSQL renders the filters as ILIKE conditions prefixed with AND
func filterSQL(spec tableSpec, kind types.EntityKind, f *Filters) (string, []interface{}) {
	if f.IsEmpty() {
		return "", nil
	}
	var conds []string
	var args []interface{}
	add := func(col, v string) {
		if strings.TrimSpace(v) == "" {
			return
		}
		conds = append(conds, col+" ILIKE ?")
		args = append(args, "%"+strings.TrimSpace(v)+"%")
	}
	add(spec.group, f.Group)
	add(spec.subGroup, f.SubGroup)
	if kind == types.KindProduct {
		add("material_primary", f.PrimaryMaterial)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}

func (s *PostgresStorage) HeadTermCandidates(ctx context.Context, kind types.EntityKind, head string, filters *Filters) ([]types.Entity, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	where, fargs := filterSQL(spec, kind, filters)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE description_embedding IS NOT NULL AND %s ILIKE ?%s",
		spec.columns("", true), spec.table, spec.name, where)
	args := append([]interface{}{"%" + strings.TrimSpace(head) + "%"}, fargs...)
	return s.queryEntities(ctx, s.db, kind, query, args...)
}

func (s *PostgresStorage) NearestEntities(ctx context.Context, kind types.EntityKind, vector []float32, limit int, filters *Filters) ([]ScoredEntity, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	where, fargs := filterSQL(spec, kind, filters)
	lit := s.align(vector)
	query := fmt.Sprintf(`
		SELECT %s, 1 - (description_embedding <=> ?::vector) AS similarity
		FROM %s
		WHERE description_embedding IS NOT NULL%s
		ORDER BY description_embedding <=> ?::vector
		LIMIT ?
	`, spec.columns("", true), spec.table, where)
	args := []interface{}{lit}
	args = append(args, fargs...)
	args = append(args, lit, limit)

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearest %s: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var out []ScoredEntity
	for rows.Next() {
		var sim sql.NullFloat64
		e, err := scanEntity(rows, kind, s.d, s.log, &sim)
		if err != nil {
			return nil, err
		}
		out = append(out, ScoredEntity{Entity: e, Similarity: sim.Float64})
	}
	return out, rows.Err()
}

// criterionColumns maps searchable fields onto the columns of a table
func criterionColumns(spec tableSpec, kind types.EntityKind, fields []Field) []string {
	var cols []string
	for _, f := range fields {
		switch f {
		case FieldName:
			cols = append(cols, spec.name)
		case FieldGroup:
			cols = append(cols, spec.group)
		case FieldSubGroup:
			cols = append(cols, spec.subGroup)
		case FieldCode:
			cols = append(cols, spec.code)
		case FieldMaterial:
			if kind == types.KindProduct {
				cols = append(cols, "material_primary")
			}
		}
	}
	return cols
}

func (s *PostgresStorage) KeywordSearch(ctx context.Context, kind types.EntityKind, criteria []Criterion, filters *Filters, limit int) ([]types.Entity, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	var ors []string
	var args []interface{}
	for _, c := range criteria {
		term := strings.TrimSpace(c.Term)
		if term == "" {
			continue
		}
		for _, col := range criterionColumns(spec, kind, c.Fields) {
			ors = append(ors, col+" ILIKE ?")
			args = append(args, "%"+term+"%")
		}
	}
	if len(ors) == 0 {
		return nil, nil
	}
	where, fargs := filterSQL(spec, kind, filters)
	args = append(args, fargs...)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE (%s)%s ORDER BY %s",
		spec.columns("", true), spec.table, strings.Join(ors, " OR "), where, spec.code)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryEntities(ctx, s.db, kind, query, args...)
}

func (s *PostgresStorage) SampleEntities(ctx context.Context, kind types.EntityKind, limit int) ([]types.Entity, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	order := "RANDOM()"
	if kind == types.KindMaterial {
		order = spec.name + " ASC"
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ?", spec.columns("", true), spec.table, order)
	return s.queryEntities(ctx, s.db, kind, query, limit)
}

func (s *PostgresStorage) ProductsByMaterials(ctx context.Context, materialCodes []string, category string, limit int) ([]ProductUsage, error) {
	if len(materialCodes) == 0 {
		return nil, nil
	}
	args := []interface{}{pq.Array(materialCodes)}
	categoryCond := ""
	if c := strings.TrimSpace(category); c != "" {
		categoryCond = " AND p.category ILIKE ?"
		args = append(args, "%"+c+"%")
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT %s, COUNT(DISTINCT pm.material_id_sap) AS match_count
		FROM product_materials pm
		JOIN products p ON p.headcode = pm.product_headcode
		WHERE pm.material_id_sap = ANY(?)%s
		GROUP BY p.headcode
		ORDER BY match_count DESC, p.product_name ASC
		LIMIT ?
	`, tableSpecs[types.KindProduct].columns("p", false), categoryCond)

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products by materials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ProductUsage
	for rows.Next() {
		var count int
		p, err := scanEntity(rows, types.KindProduct, s.d, s.log, &count)
		if err != nil {
			return nil, err
		}
		out = append(out, ProductUsage{Product: p, MatchedMaterials: count})
	}
	return out, rows.Err()
}

func (s *PostgresStorage) MaterialsByProducts(ctx context.Context, productCodes []string, materialGroup string, limit int) ([]MaterialUsage, error) {
	if len(productCodes) == 0 {
		return nil, nil
	}
	args := []interface{}{pq.Array(productCodes)}
	groupCond := ""
	if g := strings.TrimSpace(materialGroup); g != "" {
		groupCond = " AND m.material_group ILIKE ?"
		args = append(args, "%"+g+"%")
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT %s, COUNT(DISTINCT pm.product_headcode) AS usage_count, SUM(pm.quantity) AS total_quantity
		FROM product_materials pm
		JOIN materials m ON m.id_sap = pm.material_id_sap
		WHERE pm.product_headcode = ANY(?)%s
		GROUP BY m.id_sap
		ORDER BY usage_count DESC, total_quantity DESC, m.material_name ASC
		LIMIT ?
	`, tableSpecs[types.KindMaterial].columns("m", false), groupCond)

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query materials by products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []MaterialUsage
	for rows.Next() {
		var usage int
		var total sql.NullFloat64
		m, err := scanEntity(rows, types.KindMaterial, s.d, s.log, &usage, &total)
		if err != nil {
			return nil, err
		}
		out = append(out, MaterialUsage{Material: m, UsageCount: usage, TotalQuantity: total.Float64})
	}
	return out, rows.Err()
}

func (s *PostgresStorage) ProductBOM(ctx context.Context, headcode string) ([]BOMLine, error) {
	return s.productBOM(ctx, s.db, headcode)
}

func (s *PostgresStorage) InsertInteraction(ctx context.Context, event *types.InteractionEvent) error {
	return s.insertInteraction(ctx, s.db, event)
}

func (s *PostgresStorage) RecentInteractions(ctx context.Context, sessionID string, limit int) ([]types.InteractionEvent, error) {
	return s.recentInteractions(ctx, s.db, sessionID, limit)
}

func (s *PostgresStorage) CountInteractions(ctx context.Context, sessionID string) (int, error) {
	return s.countInteractions(ctx, s.db, sessionID)
}

func (s *PostgresStorage) UpsertFeedback(ctx context.Context, record *types.FeedbackRecord) error {
	return s.upsertFeedback(ctx, s.db, record)
}

func (s *PostgresStorage) SimilarFeedback(ctx context.Context, kind types.EntityKind, vector []float32, threshold float64, limit int) ([]types.FeedbackMatch, error) {
	lit := s.align(vector)
	query := `
		SELECT selected_items, 1 - (query_embedding <=> ?::vector) AS similarity
		FROM user_feedback
		WHERE search_type = ?
		  AND query_embedding IS NOT NULL
		  AND 1 - (query_embedding <=> ?::vector) >= ?
		ORDER BY similarity DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), lit, string(kind), lit, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []types.FeedbackMatch
	for rows.Next() {
		var selected string
		var sim float64
		if err := rows.Scan(&selected, &sim); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		matches = append(matches, types.FeedbackMatch{Selected: decodeItems(selected), Similarity: sim})
	}
	return matches, rows.Err()
}

func (s *PostgresStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{Driver: "postgres"}
	if err := s.countStatus(ctx, s.db, status); err != nil {
		return nil, err
	}
	var size int64
	if err := s.db.QueryRowContext(ctx, "SELECT pg_database_size(current_database())").Scan(&size); err == nil {
		status.DatabaseSizeMB = float64(size) / (1024 * 1024)
	}
	status.Health.VectorOperator = true
	return status, nil
}
