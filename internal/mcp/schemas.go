package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Shared schema fragments

func entityTypeProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Catalog table to search",
		"enum":        []string{"product", "material"},
		"default":     "product",
	}
}

func sessionProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Chat session identifier used for personalization and follow-ups",
	}
}

func paramsProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "object",
		"description": "Structured fields extracted from the user's request",
		"properties": map[string]interface{}{
			"keywords": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
			"category":         map[string]interface{}{"type": "string"},
			"sub_category":     map[string]interface{}{"type": "string"},
			"material_primary": map[string]interface{}{"type": "string"},
			"material_group":   map[string]interface{}{"type": "string"},
			"headcode": map[string]interface{}{
				"type":        "string",
				"description": "Product headcode or material id_sap",
			},
		},
	}
}

// searchCatalogTool returns the tool definition for search_catalog
func searchCatalogTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_catalog",
		Description: "Ranked hybrid search over products or materials, personalized by session history and past feedback",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search text, e.g. 'bàn làm việc gỗ sồi'",
				},
				"entity_type": entityTypeProperty(),
				"session_id":  sessionProperty(),
				"params":      paramsProperty(),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"is_broad_query": map[string]interface{}{
					"type":        "boolean",
					"description": "Whether the request is a general browse rather than a specific ask",
					"default":     false,
				},
			},
			Required: []string{"query"},
		},
	}
}

// handleIntentTool returns the tool definition for handle_intent
func handleIntentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "handle_intent",
		Description: "Answer a classified chat intent: search, cross-table search, bill of materials or product cost",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"intent": map[string]interface{}{
					"type": "string",
					"enum": []string{
						"search_product", "search_material",
						"search_product_by_material", "search_material_for_product",
						"query_product_materials", "calculate_product_cost",
					},
				},
				"query":          map[string]interface{}{"type": "string"},
				"entity_type":    entityTypeProperty(),
				"session_id":     sessionProperty(),
				"params":         paramsProperty(),
				"is_broad_query": map[string]interface{}{"type": "boolean", "default": false},
				"suggested_actions": map[string]interface{}{
					"type":        "array",
					"description": "Follow-up searches offered for broad queries",
					"items":       map[string]interface{}{"type": "string"},
				},
				"follow_up_question": map[string]interface{}{"type": "string"},
			},
			Required: []string{"intent"},
		},
	}
}

// crossSearchTool returns the tool definition for cross_search
func crossSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cross_search",
		Description: "Find products made from a material, or materials used by a kind of product",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"direction": map[string]interface{}{
					"type": "string",
					"enum": []string{directionProducts, directionMaterials},
				},
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Material description (products direction) or product description (materials direction)",
				},
				"session_id": sessionProperty(),
				"params":     paramsProperty(),
			},
			Required: []string{"direction", "query"},
		},
	}
}

// trackInteractionTool returns the tool definition for track_interaction
func trackInteractionTool() mcp.Tool {
	return mcp.Tool{
		Name:        "track_interaction",
		Description: "Record that the user viewed or rejected a catalog entity",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id":  sessionProperty(),
				"entity_type": entityTypeProperty(),
				"entity_code": map[string]interface{}{"type": "string"},
				"interaction": map[string]interface{}{
					"type":    "string",
					"enum":    []string{"view", "reject"},
					"default": "view",
				},
			},
			Required: []string{"session_id", "entity_code"},
		},
	}
}

// submitFeedbackTool returns the tool definition for submit_feedback
func submitFeedbackTool() mcp.Tool {
	stringList := map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"type": "string"},
	}
	return mcp.Tool{
		Name:        "submit_feedback",
		Description: "Store which results the user selected for a query so similar queries rank them higher",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id":  sessionProperty(),
				"query":       map[string]interface{}{"type": "string"},
				"entity_type": entityTypeProperty(),
				"selected":    stringList,
				"rejected":    stringList,
			},
			Required: []string{"session_id", "query", "selected"},
		},
	}
}

// productCostTool returns the tool definition for product_cost
func productCostTool() mcp.Tool {
	return mcp.Tool{
		Name:        "product_cost",
		Description: "Price a product from its bill of materials using the latest material prices",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"headcode": map[string]interface{}{"type": "string"},
			},
			Required: []string{"headcode"},
		},
	}
}

// getSuggestionsTool returns the tool definition for get_suggestions
func getSuggestionsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_suggestions",
		Description: "Return the follow-up prompts produced by the session's last answer",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionProperty(),
			},
			Required: []string{"session_id"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report catalog counts, embedding coverage and store health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// importCatalogTool returns the tool definition for import_catalog
func importCatalogTool() mcp.Tool {
	return mcp.Tool{
		Name:        "import_catalog",
		Description: "Import products, materials or the bill of materials from a CSV file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"table": map[string]interface{}{
					"type": "string",
					"enum": []string{tableProducts, tableMaterials, tableBOM},
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the CSV file",
				},
			},
			Required: []string{"table", "path"},
		},
	}
}

// embedCatalogTool returns the tool definition for embed_catalog
func embedCatalogTool() mcp.Tool {
	return mcp.Tool{
		Name:        "embed_catalog",
		Description: "Generate embeddings for catalog rows that do not have one yet",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"entity_type": map[string]interface{}{
					"type":        "string",
					"description": "Restrict to one table; both when omitted",
					"enum":        []string{"product", "material"},
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-embed rows that already have a vector",
					"default":     false,
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum rows per table, 0 for all",
					"default":     0,
				},
			},
		},
	}
}
