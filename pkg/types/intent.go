package types

// Intent names recognized by the engine
const (
	IntentSearchProduct         = "search_product"
	IntentSearchMaterial        = "search_material"
	IntentProductByMaterial     = "search_product_by_material"
	IntentMaterialForProduct    = "search_material_for_product"
	IntentQueryProductMaterials = "query_product_materials"
	IntentCalculateProductCost  = "calculate_product_cost"
)

// Intent is the output of an upstream classifier. The engine never
// classifies free text itself.
type Intent struct {
	Name             string
	EntityType       EntityKind
	Query            string
	Params           SearchParams
	IsBroadQuery     bool
	SessionID        string
	Limit            int // 0 uses the engine default
	SuggestedActions []string // follow-ups offered for broad queries
	FollowUpQuestion string
}

// SearchParams carries the structured fields extracted from the user's
// request. Empty fields are ignored.
type SearchParams struct {
	Keywords        []string `json:"keywords,omitempty"`
	Category        string   `json:"category,omitempty"`
	SubCategory     string   `json:"sub_category,omitempty"`
	MaterialPrimary string   `json:"material_primary,omitempty"`
	MaterialGroup   string   `json:"material_group,omitempty"`
	Code            string   `json:"code,omitempty"`
}

// IsEmpty reports whether no structured criteria were provided
func (p SearchParams) IsEmpty() bool {
	return len(p.Keywords) == 0 && p.Category == "" && p.SubCategory == "" &&
		p.MaterialPrimary == "" && p.MaterialGroup == "" && p.Code == ""
}
