package types

import "strings"

// EntityKind distinguishes the two searchable catalog tables
type EntityKind string

const (
	KindProduct  EntityKind = "product"
	KindMaterial EntityKind = "material"
)

// ParseEntityKind normalizes user input ("products", "Material", ...) into a kind
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "product", "":
		return KindProduct, nil
	case "material":
		return KindMaterial, nil
	default:
		return "", ErrInvalidEntityKind
	}
}

// CodeColumn returns the name of the code column for the kind
func (k EntityKind) CodeColumn() string {
	if k == KindMaterial {
		return "id_sap"
	}
	return "headcode"
}

// Entity is a catalog row: either a product or a material.
//
// Group and SubGroup hold category/sub_category for products and
// material_group/material_subgroup for materials.
type Entity struct {
	Kind            EntityKind
	Code            string // headcode or id_sap
	Name            string
	Group           string
	SubGroup        string
	PrimaryMaterial string // products only
	Project         string // products only
	ProjectID       string // products only
	Unit            string
	ImageURL        string
	Prices          PriceHistory // materials only
	Vector          []float32    // nil when no embedding has been stored
}

// HasVector reports whether the entity carries a stored embedding
func (e *Entity) HasVector() bool {
	return len(e.Vector) > 0
}

// Validate checks required identity fields
func (e *Entity) Validate() error {
	if e.Kind != KindProduct && e.Kind != KindMaterial {
		return ErrInvalidEntityKind
	}
	if strings.TrimSpace(e.Code) == "" {
		return ErrMissingEntityCode
	}
	return nil
}

// EmbeddingText builds the text that is embedded for the entity.
// Products and materials concatenate their descriptive columns.
func (e *Entity) EmbeddingText() string {
	parts := []string{e.Name, e.Group, e.SubGroup}
	if e.Kind == KindProduct {
		parts = append(parts, e.PrimaryMaterial, e.Project)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// Association links a product to one of the materials it consumes
type Association struct {
	ProductCode  string
	MaterialCode string
	Quantity     float64
	Unit         string
}
