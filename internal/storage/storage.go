package storage

import (
	"context"
	"strings"
	"time"

	"github.com/dshills/catalog-mcp/pkg/types"
)

// Storage defines the interface for persisting and querying catalog and
// feedback data
type Storage interface {
	CatalogWriter

	// Catalog reads
	GetEntity(ctx context.Context, kind types.EntityKind, code string) (*types.Entity, error)
	ListEntities(ctx context.Context, kind types.EntityKind, onlyMissingVector bool, limit int) ([]types.Entity, error)

	// Retrieval operations
	HeadTermCandidates(ctx context.Context, kind types.EntityKind, head string, filters *Filters) ([]types.Entity, error)
	NearestEntities(ctx context.Context, kind types.EntityKind, vector []float32, limit int, filters *Filters) ([]ScoredEntity, error)
	KeywordSearch(ctx context.Context, kind types.EntityKind, criteria []Criterion, filters *Filters, limit int) ([]types.Entity, error)
	SampleEntities(ctx context.Context, kind types.EntityKind, limit int) ([]types.Entity, error)

	// Relational operations
	ProductsByMaterials(ctx context.Context, materialCodes []string, category string, limit int) ([]ProductUsage, error)
	MaterialsByProducts(ctx context.Context, productCodes []string, materialGroup string, limit int) ([]MaterialUsage, error)
	ProductBOM(ctx context.Context, headcode string) ([]BOMLine, error)

	// Feedback operations
	InsertInteraction(ctx context.Context, event *types.InteractionEvent) error
	RecentInteractions(ctx context.Context, sessionID string, limit int) ([]types.InteractionEvent, error)
	CountInteractions(ctx context.Context, sessionID string) (int, error)
	UpsertFeedback(ctx context.Context, record *types.FeedbackRecord) error
	SimilarFeedback(ctx context.Context, kind types.EntityKind, vector []float32, threshold float64, limit int) ([]types.FeedbackMatch, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// CatalogWriter holds the write operations used by catalog imports
type CatalogWriter interface {
	UpsertEntity(ctx context.Context, entity *types.Entity) error
	UpsertAssociation(ctx context.Context, assoc types.Association) error
	UpdateEntityVector(ctx context.Context, kind types.EntityKind, code string, vector []float32) error
}

// Tx represents a database transaction over catalog writes
type Tx interface {
	Commit() error
	Rollback() error
	CatalogWriter
}

// Filters narrows retrieval to rows whose fields contain the given values
// (case-insensitive substring). Empty fields are ignored.
type Filters struct {
	Group           string // category or material_group
	SubGroup        string // sub_category or material_subgroup
	PrimaryMaterial string // products only
}

// IsEmpty reports whether no filter is set
func (f *Filters) IsEmpty() bool {
	return f == nil || (f.Group == "" && f.SubGroup == "" && f.PrimaryMaterial == "")
}

// Matches applies the filters to an entity in Go
func (f *Filters) Matches(e *types.Entity) bool {
	if f.IsEmpty() {
		return true
	}
	if f.Group != "" && !containsFold(e.Group, f.Group) {
		return false
	}
	if f.SubGroup != "" && !containsFold(e.SubGroup, f.SubGroup) {
		return false
	}
	if f.PrimaryMaterial != "" && e.Kind == types.KindProduct && !containsFold(e.PrimaryMaterial, f.PrimaryMaterial) {
		return false
	}
	return true
}

// Field is a searchable text column of an entity
type Field string

const (
	FieldName     Field = "name"
	FieldGroup    Field = "group"
	FieldSubGroup Field = "sub_group"
	FieldMaterial Field = "material"
	FieldCode     Field = "code"
)

// Criterion is one keyword condition: Term must appear in at least one of
// Fields. A keyword search matches rows satisfying any criterion.
type Criterion struct {
	Term   string
	Fields []Field
}

// Matches reports whether the entity satisfies the criterion
func (c Criterion) Matches(e *types.Entity) bool {
	term := strings.TrimSpace(c.Term)
	if term == "" {
		return false
	}
	for _, f := range c.Fields {
		if containsFold(fieldValue(e, f), term) {
			return true
		}
	}
	return false
}

// CountMatches returns how many criteria the entity satisfies
func CountMatches(e *types.Entity, criteria []Criterion) int {
	n := 0
	for _, c := range criteria {
		if c.Matches(e) {
			n++
		}
	}
	return n
}

func fieldValue(e *types.Entity, f Field) string {
	switch f {
	case FieldName:
		return e.Name
	case FieldGroup:
		return e.Group
	case FieldSubGroup:
		return e.SubGroup
	case FieldMaterial:
		return e.PrimaryMaterial
	case FieldCode:
		return e.Code
	default:
		return ""
	}
}

// containsFold is the Go equivalent of ILIKE '%needle%'
func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(strings.TrimSpace(needle)))
}

// ScoredEntity is an entity with its cosine similarity to a query vector
type ScoredEntity struct {
	Entity     types.Entity
	Similarity float64
}

// ProductUsage is a product reached from a set of seed materials
type ProductUsage struct {
	Product          types.Entity
	MatchedMaterials int // distinct seed materials the product uses
}

// MaterialUsage is a material reached from a set of seed products
type MaterialUsage struct {
	Material      types.Entity
	UsageCount    int     // distinct seed products using the material
	TotalQuantity float64 // summed quantity across those products
}

// BOMLine is one material row of a product's bill of materials
type BOMLine struct {
	Material types.Entity
	Quantity float64
	Unit     string
}

// Status contains statistics about the catalog and feedback tables
type Status struct {
	Driver          string
	Products        int
	Materials       int
	Associations    int
	ProductVectors  int
	MaterialVectors int
	Interactions    int
	FeedbackRecords int
	SchemaVersion   string
	DatabaseSizeMB  float64
	CheckedAt       time.Time
	Health          HealthStatus
}

// HealthStatus represents the health of the store
type HealthStatus struct {
	DatabaseAccessible  bool
	EmbeddingsAvailable bool
	VectorOperator      bool // native vector distance operator in SQL
}
