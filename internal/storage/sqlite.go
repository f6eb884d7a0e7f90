package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/catalog-mcp/internal/observability"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// Option configures a store
type Option func(*options)

type options struct {
	logger *observability.Logger
}

// WithLogger sets the logger used for data integrity warnings
func WithLogger(l *observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: observability.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = observability.OrNop(o.logger)
	return o
}

// SQLiteStorage implements the Storage interface using SQLite.
//
// SQLite has no vector operator and its LIKE only folds ASCII case, so
// similarity ranking and substring matching are done in Go over the rows
// of the requested table.
type SQLiteStorage struct {
	db  *sql.DB // single writer
	rdb *sql.DB // readers; the writer pool itself for in-memory databases
	sqlCatalog
}

const sqliteReaderConns = 4

// isMemoryPath reports paths whose connections each see a private database
func isMemoryPath(dbPath string) bool {
	return dbPath == "" || dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

// openReaders opens the read pool. WAL lets these run while the writer
// holds a transaction.
func openReaders(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(sqliteReaderConns)
	db.SetMaxIdleConns(sqliteReaderConns)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open readers: %w", err)
	}
	return db, nil
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	o := buildOptions(opts)

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := applyMigrations(context.Background(), db, sqliteDialect, SQLiteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	rdb := db
	if !isMemoryPath(dbPath) {
		if rdb, err = openReaders(dbPath); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	return &SQLiteStorage{
		db:         db,
		rdb:        rdb,
		sqlCatalog: sqlCatalog{d: sqliteDialect, log: o.logger.WithComponent("storage")},
	}, nil
}

// Close closes the reader and writer pools
func (s *SQLiteStorage) Close() error {
	var rerr error
	if s.rdb != s.db {
		rerr = s.rdb.Close()
	}
	return errors.Join(s.db.Close(), rerr)
}

// RollbackLast rolls back the most recent schema migration
func (s *SQLiteStorage) RollbackLast(ctx context.Context) (string, error) {
	return rollbackMigration(ctx, s.db, s.d, SQLiteMigrations)
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, c: s.sqlCatalog}, nil
}

// Catalog writes

func (s *SQLiteStorage) UpsertEntity(ctx context.Context, e *types.Entity) error {
	return s.upsertEntity(ctx, s.db, e)
}

func (s *SQLiteStorage) UpsertAssociation(ctx context.Context, a types.Association) error {
	return s.upsertAssociation(ctx, s.db, a)
}

func (s *SQLiteStorage) UpdateEntityVector(ctx context.Context, kind types.EntityKind, code string, vector []float32) error {
	return s.updateEntityVector(ctx, s.db, kind, code, vector)
}

// Catalog reads

func (s *SQLiteStorage) GetEntity(ctx context.Context, kind types.EntityKind, code string) (*types.Entity, error) {
	return s.getEntity(ctx, s.rdb, kind, code)
}

func (s *SQLiteStorage) ListEntities(ctx context.Context, kind types.EntityKind, onlyMissingVector bool, limit int) ([]types.Entity, error) {
	return s.listEntities(ctx, s.rdb, kind, onlyMissingVector, limit)
}

// loadVectors loads every row of kind that carries an embedding
func (s *SQLiteStorage) loadVectors(ctx context.Context, kind types.EntityKind) ([]types.Entity, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE description_embedding IS NOT NULL ORDER BY %s",
		spec.columns("", true), spec.table, spec.code)
	return s.queryEntities(ctx, s.rdb, kind, query)
}

// Retrieval operations

// HeadTermCandidates returns entities with vectors whose name contains head
func (s *SQLiteStorage) HeadTermCandidates(ctx context.Context, kind types.EntityKind, head string, filters *Filters) ([]types.Entity, error) {
	all, err := s.loadVectors(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := make([]types.Entity, 0, len(all))
	for i := range all {
		if containsFold(all[i].Name, head) && filters.Matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// NearestEntities ranks all vectors of kind by cosine similarity to vector
func (s *SQLiteStorage) NearestEntities(ctx context.Context, kind types.EntityKind, vector []float32, limit int, filters *Filters) ([]ScoredEntity, error) {
	all, err := s.loadVectors(ctx, kind)
	if err != nil {
		return nil, err
	}
	if !filters.IsEmpty() {
		kept := all[:0]
		for i := range all {
			if filters.Matches(&all[i]) {
				kept = append(kept, all[i])
			}
		}
		all = kept
	}
	return rankBySimilarity(all, vector, limit), nil
}

// KeywordSearch returns entities satisfying any criterion, in code order
func (s *SQLiteStorage) KeywordSearch(ctx context.Context, kind types.EntityKind, criteria []Criterion, filters *Filters, limit int) ([]types.Entity, error) {
	if len(criteria) == 0 {
		return nil, nil
	}
	all, err := s.listEntities(ctx, s.rdb, kind, false, 0)
	if err != nil {
		return nil, err
	}
	var out []types.Entity
	for i := range all {
		if CountMatches(&all[i], criteria) > 0 && filters.Matches(&all[i]) {
			out = append(out, all[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// SampleEntities returns random products, or materials in name order
func (s *SQLiteStorage) SampleEntities(ctx context.Context, kind types.EntityKind, limit int) ([]types.Entity, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	order := "RANDOM()"
	if kind == types.KindMaterial {
		order = spec.name + " ASC"
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ?", spec.columns("", true), spec.table, order)
	return s.queryEntities(ctx, s.rdb, kind, query, limit)
}

// Relational operations

func (s *SQLiteStorage) ProductsByMaterials(ctx context.Context, materialCodes []string, category string, limit int) ([]ProductUsage, error) {
	if len(materialCodes) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT %s, COUNT(DISTINCT pm.material_id_sap) AS match_count
		FROM product_materials pm
		JOIN products p ON p.headcode = pm.product_headcode
		WHERE pm.material_id_sap IN %s
		GROUP BY p.headcode
		ORDER BY match_count DESC, p.product_name ASC
	`, tableSpecs[types.KindProduct].columns("p", false), inClause(len(materialCodes)))

	rows, err := s.rdb.QueryContext(ctx, query, stringArgs(materialCodes)...)
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
		if category != "" && !containsFold(p.Group, category) {
			continue
		}
		out = append(out, ProductUsage{Product: p, MatchedMaterials: count})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) MaterialsByProducts(ctx context.Context, productCodes []string, materialGroup string, limit int) ([]MaterialUsage, error) {
	if len(productCodes) == 0 {
		return nil, nil
	}
	// The group filter is applied in Go for Unicode case folding, so the
	// SQL limit is applied afterwards.
	query := fmt.Sprintf(`
		SELECT %s, COUNT(DISTINCT pm.product_headcode) AS usage_count, SUM(pm.quantity) AS total_quantity
		FROM product_materials pm
		JOIN materials m ON m.id_sap = pm.material_id_sap
		WHERE pm.product_headcode IN %s
		GROUP BY m.id_sap
		ORDER BY usage_count DESC, total_quantity DESC, m.material_name ASC
	`, tableSpecs[types.KindMaterial].columns("m", false), inClause(len(productCodes)))

	rows, err := s.rdb.QueryContext(ctx, query, stringArgs(productCodes)...)
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
		if materialGroup != "" && !containsFold(m.Group, materialGroup) {
			continue
		}
		out = append(out, MaterialUsage{Material: m, UsageCount: usage, TotalQuantity: total.Float64})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) ProductBOM(ctx context.Context, headcode string) ([]BOMLine, error) {
	return s.productBOM(ctx, s.rdb, headcode)
}

// Feedback operations

func (s *SQLiteStorage) InsertInteraction(ctx context.Context, event *types.InteractionEvent) error {
	return s.insertInteraction(ctx, s.db, event)
}

func (s *SQLiteStorage) RecentInteractions(ctx context.Context, sessionID string, limit int) ([]types.InteractionEvent, error) {
	return s.recentInteractions(ctx, s.rdb, sessionID, limit)
}

func (s *SQLiteStorage) CountInteractions(ctx context.Context, sessionID string) (int, error) {
	return s.countInteractions(ctx, s.rdb, sessionID)
}

func (s *SQLiteStorage) UpsertFeedback(ctx context.Context, record *types.FeedbackRecord) error {
	return s.upsertFeedback(ctx, s.db, record)
}

// SimilarFeedback scores every stored query embedding of kind in Go
func (s *SQLiteStorage) SimilarFeedback(ctx context.Context, kind types.EntityKind, vector []float32, threshold float64, limit int) ([]types.FeedbackMatch, error) {
	rows, err := s.rdb.QueryContext(ctx, `
		SELECT query_embedding, selected_items
		FROM user_feedback
		WHERE search_type = ? AND query_embedding IS NOT NULL
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []types.FeedbackMatch
	for rows.Next() {
		var blob []byte
		var selected string
		if err := rows.Scan(&blob, &selected); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		sim := similarityTo(vector, deserializeVector(blob))
		if sim < threshold {
			continue
		}
		matches = append(matches, types.FeedbackMatch{Selected: decodeItems(selected), Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{Driver: "sqlite-" + BuildMode}
	if err := s.countStatus(ctx, s.rdb, status); err != nil {
		return nil, err
	}

	var pageCount, pageSize int
	if err := s.rdb.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.rdb.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}
	status.Health.VectorOperator = VectorExtensionAvailable
	return status, nil
}

// sqlTx wraps a SQL transaction for catalog writes. It is shared by both
// stores since the write statements are dialect-parameterized.
type sqlTx struct {
	tx *sql.Tx
	c  sqlCatalog
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqlTx) UpsertEntity(ctx context.Context, e *types.Entity) error {
	return t.c.upsertEntity(ctx, t.tx, e)
}

func (t *sqlTx) UpsertAssociation(ctx context.Context, a types.Association) error {
	return t.c.upsertAssociation(ctx, t.tx, a)
}

func (t *sqlTx) UpdateEntityVector(ctx context.Context, kind types.EntityKind, code string, vector []float32) error {
	return t.c.updateEntityVector(ctx, t.tx, kind, code, vector)
}

