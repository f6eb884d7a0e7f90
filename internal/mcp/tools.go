package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/catalog-mcp/internal/engine"
	"github.com/dshills/catalog-mcp/internal/feedback"
	"github.com/dshills/catalog-mcp/internal/indexer"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams  = -32602 // Invalid method parameters
	ErrorCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound       = -32001 // Product or material does not exist
	ErrorCodeJobInProgress  = -32002 // Another import or embedding run is active
	ErrorCodeMissingSession = -32003 // session_id parameter is empty
	ErrorCodeEmptyQuery     = -32004 // Query parameter is empty
	ErrorCodeUnknownIntent  = -32005 // Intent name is not recognized
	ErrorCodeBusy           = -32006 // Interaction queue is full
)

// Cross-search directions and import tables
const (
	directionProducts  = "products_by_material"
	directionMaterials = "materials_for_product"

	tableProducts  = "products"
	tableMaterials = "materials"
	tableBOM       = "product_materials"
)

// handleSearchCatalog handles the search_catalog tool invocation
func (s *Server) handleSearchCatalog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	params := parseParams(args)
	if query == "" && params.IsEmpty() {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	kind, err := types.ParseEntityKind(getStringDefault(args, "entity_type", ""))
	if err != nil {
		return nil, invalidParam("entity_type", err)
	}

	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	name := types.IntentSearchProduct
	if kind == types.KindMaterial {
		name = types.IntentSearchMaterial
	}
	resp, err := s.engine.Handle(ctx, types.Intent{
		Name:         name,
		EntityType:   kind,
		Query:        query,
		Params:       params,
		IsBroadQuery: getBoolDefault(args, "is_broad_query", false),
		SessionID:    getStringDefault(args, "session_id", ""),
		Limit:        limit,
	})
	if err != nil {
		return nil, toolError("search failed", err)
	}
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleIntent handles the handle_intent tool invocation
func (s *Server) handleIntent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	name := getStringDefault(args, "intent", "")
	if name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "intent parameter is required", map[string]interface{}{
			"param":  "intent",
			"reason": "missing or empty",
		})
	}
	kind, err := types.ParseEntityKind(getStringDefault(args, "entity_type", ""))
	if err != nil {
		return nil, invalidParam("entity_type", err)
	}

	resp, err := s.engine.Handle(ctx, types.Intent{
		Name:             name,
		EntityType:       kind,
		Query:            getStringDefault(args, "query", ""),
		Params:           parseParams(args),
		IsBroadQuery:     getBoolDefault(args, "is_broad_query", false),
		SessionID:        getStringDefault(args, "session_id", ""),
		SuggestedActions: getStringSlice(args, "suggested_actions"),
		FollowUpQuestion: getStringDefault(args, "follow_up_question", ""),
	})
	if err != nil {
		return nil, toolError("intent failed", err)
	}
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleCrossSearch handles the cross_search tool invocation
func (s *Server) handleCrossSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	var intent string
	switch direction := getStringDefault(args, "direction", ""); direction {
	case directionProducts:
		intent = types.IntentProductByMaterial
	case directionMaterials:
		intent = types.IntentMaterialForProduct
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid direction", map[string]interface{}{
			"param":   "direction",
			"value":   direction,
			"allowed": []string{directionProducts, directionMaterials},
		})
	}

	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	params := parseParams(args)
	if query == "" && params.IsEmpty() {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	resp, err := s.engine.Handle(ctx, types.Intent{
		Name:      intent,
		Query:     query,
		Params:    params,
		SessionID: getStringDefault(args, "session_id", ""),
	})
	if err != nil {
		return nil, toolError("cross search failed", err)
	}
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleTrackInteraction handles the track_interaction tool invocation
func (s *Server) handleTrackInteraction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	sessionID, err := requireSession(args)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(getStringDefault(args, "entity_code", ""))
	if code == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "entity_code parameter is required", map[string]interface{}{
			"param":  "entity_code",
			"reason": "missing or empty",
		})
	}
	kind, err := types.ParseEntityKind(getStringDefault(args, "entity_type", ""))
	if err != nil {
		return nil, invalidParam("entity_type", err)
	}

	ev, err := s.feedback.TrackEntity(ctx, sessionID, kind, code, getStringDefault(args, "interaction", string(types.InteractionView)))
	if err != nil {
		return nil, toolError("failed to record interaction", err)
	}

	response := map[string]interface{}{
		"recorded":      true,
		"event_id":      ev.ID,
		"entity_code":   ev.EntityCode,
		"interaction":   ev.Type,
		"has_embedding": len(ev.EntityVector) > 0,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSubmitFeedback handles the submit_feedback tool invocation
func (s *Server) handleSubmitFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	sessionID, err := requireSession(args)
	if err != nil {
		return nil, err
	}
	selected := getStringSlice(args, "selected")
	if len(selected) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "selected must list at least one entity code", map[string]interface{}{
			"param":  "selected",
			"reason": "missing or empty",
		})
	}
	kind, err := types.ParseEntityKind(getStringDefault(args, "entity_type", ""))
	if err != nil {
		return nil, invalidParam("entity_type", err)
	}

	rec, err := s.feedback.SubmitFeedback(ctx, sessionID, getStringDefault(args, "query", ""), kind, selected, getStringSlice(args, "rejected"))
	if err != nil {
		return nil, toolError("failed to save feedback", err)
	}

	response := map[string]interface{}{
		"saved":       true,
		"feedback_id": rec.ID,
		"selected":    len(rec.Selected),
		"rejected":    len(rec.Rejected),
		"embedded":    len(rec.QueryVector) > 0,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleProductCost handles the product_cost tool invocation
func (s *Server) handleProductCost(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	report, err := s.engine.ProductCost(ctx, strings.TrimSpace(getStringDefault(args, "headcode", "")))
	if err != nil {
		return nil, toolError("cost calculation failed", err)
	}
	if !report.HasBOM() {
		response := map[string]interface{}{
			"headcode":     report.Headcode,
			"product_name": report.ProductName,
			"status":       engine.StatusNoBOM,
			"message":      "Product has no bill of materials. Use import_catalog with product_materials to add one.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}
	return mcp.NewToolResultText(formatJSON(report)), nil
}

// handleGetSuggestions handles the get_suggestions tool invocation
func (s *Server) handleGetSuggestions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	sessionID, err := requireSession(args)
	if err != nil {
		return nil, err
	}
	session, err := s.engine.Session(ctx, sessionID)
	if err != nil {
		return nil, toolError("failed to load session", err)
	}

	response := map[string]interface{}{
		"session_id":        sessionID,
		"suggested_prompts": nonNil(session.Suggestions),
		"last_intent":       session.LastIntent,
		"last_results":      nonNil(session.LastResults),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.storage.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"driver":         status.Driver,
		"schema_version": status.SchemaVersion,
		"job_running":    s.lock.Busy(),
		"statistics": map[string]interface{}{
			"products":         status.Products,
			"materials":        status.Materials,
			"associations":     status.Associations,
			"product_vectors":  status.ProductVectors,
			"material_vectors": status.MaterialVectors,
			"interactions":     status.Interactions,
			"feedback_records": status.FeedbackRecords,
			"database_size_mb": fmt.Sprintf("%.2f", status.DatabaseSizeMB),
		},
		"health": map[string]interface{}{
			"database_accessible":  status.Health.DatabaseAccessible,
			"embeddings_available": status.Health.EmbeddingsAvailable,
			"vector_operator":      status.Health.VectorOperator,
		},
	}
	if s.embedder != nil {
		response["embedding"] = map[string]interface{}{
			"provider":  s.embedder.Provider(),
			"model":     s.embedder.Model(),
			"dimension": s.embedder.Dimension(),
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleImportCatalog handles the import_catalog tool invocation
func (s *Server) handleImportCatalog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	table := getStringDefault(args, "table", "")
	var run func(context.Context, io.Reader) (*indexer.ImportStats, error)
	switch table {
	case tableProducts:
		run = s.indexer.ImportProducts
	case tableMaterials:
		run = s.indexer.ImportMaterials
	case tableBOM:
		run = s.indexer.ImportAssociations
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid table", map[string]interface{}{
			"param":   "table",
			"value":   table,
			"allowed": []string{tableProducts, tableMaterials, tableBOM},
		})
	}

	path := getStringDefault(args, "path", "")
	if err := validateFile(path); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	if s.indexer == nil {
		return nil, newMCPError(ErrorCodeInternalError, "catalog jobs are not available", nil)
	}
	if !s.lock.TryAcquire() {
		return nil, newMCPError(ErrorCodeJobInProgress, "another import or embedding run is in progress", nil)
	}
	defer s.lock.Release()

	f, err := os.Open(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": ErrPathNotReadable.Error(),
		})
	}
	defer func() { _ = f.Close() }()

	stats, err := run(ctx, f)
	if err != nil {
		if errors.Is(err, indexer.ErrMissingColumns) {
			return nil, invalidParam("path", err)
		}
		return nil, newMCPError(ErrorCodeInternalError, "import failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"table":    table,
		"total":    stats.Total,
		"imported": stats.Imported,
		"skipped":  stats.Skipped,
	}
	if stats.CreatedMaterials > 0 {
		response["auto_created_materials"] = stats.CreatedMaterials
	}
	if len(stats.Errors) > 0 {
		response["errors"] = stats.Errors
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleEmbedCatalog handles the embed_catalog tool invocation
func (s *Server) handleEmbedCatalog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	config := &indexer.Config{
		Force: getBoolDefault(args, "force", false),
		Limit: getIntDefault(args, "limit", 0),
	}
	if config.Limit < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit cannot be negative", map[string]interface{}{
			"param": "limit",
			"value": config.Limit,
		})
	}
	if raw := getStringDefault(args, "entity_type", ""); raw != "" {
		kind, err := types.ParseEntityKind(raw)
		if err != nil {
			return nil, invalidParam("entity_type", err)
		}
		config.Kinds = []types.EntityKind{kind}
	}

	if s.indexer == nil {
		return nil, newMCPError(ErrorCodeInternalError, "catalog jobs are not available", nil)
	}
	if !s.lock.TryAcquire() {
		return nil, newMCPError(ErrorCodeJobInProgress, "another import or embedding run is in progress", nil)
	}
	defer s.lock.Release()

	stats, err := s.indexer.EmbedCatalog(ctx, config)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "embedding failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"scanned":     stats.Scanned,
		"embedded":    stats.Embedded,
		"failed":      stats.Failed,
		"duration_ms": stats.Duration.Milliseconds(),
	}
	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toolError maps a domain error to its MCP error code
func toolError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", data)
	case errors.Is(err, types.ErrMissingSession):
		return newMCPError(ErrorCodeMissingSession, "session_id parameter is required", data)
	case errors.Is(err, types.ErrNotFound):
		return newMCPError(ErrorCodeNotFound, "entity not found", data)
	case errors.Is(err, types.ErrUnknownIntent):
		return newMCPError(ErrorCodeUnknownIntent, "unknown intent", data)
	case errors.Is(err, feedback.ErrQueueFull):
		return newMCPError(ErrorCodeBusy, "too many pending interactions, retry later", data)
	case errors.Is(err, types.ErrInvalidEntityKind),
		errors.Is(err, types.ErrInvalidInteraction),
		errors.Is(err, types.ErrMissingEntityCode):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

func invalidParam(param string, err error) error {
	return newMCPError(ErrorCodeInvalidParams, "invalid "+param, map[string]interface{}{
		"param":  param,
		"reason": err.Error(),
	})
}

func requireSession(args map[string]interface{}) (string, error) {
	sessionID := strings.TrimSpace(getStringDefault(args, "session_id", ""))
	if sessionID == "" {
		return "", newMCPError(ErrorCodeMissingSession, "session_id parameter is required", map[string]interface{}{
			"param":  "session_id",
			"reason": "missing or empty",
		})
	}
	return sessionID, nil
}

// validateFile checks that path names a readable regular file
func validateFile(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	// Check if path is absolute
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if info.IsDir() {
		return ErrPathIsDirectory
	}
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return ErrNotCSV
	}
	return nil
}

// parseParams reads the optional params object
func parseParams(args map[string]interface{}) types.SearchParams {
	raw, ok := args["params"].(map[string]interface{})
	if !ok {
		return types.SearchParams{}
	}
	p := types.SearchParams{
		Keywords:        getStringSlice(raw, "keywords"),
		Category:        getStringDefault(raw, "category", ""),
		SubCategory:     getStringDefault(raw, "sub_category", ""),
		MaterialPrimary: getStringDefault(raw, "material_primary", ""),
		MaterialGroup:   getStringDefault(raw, "material_group", ""),
		Code:            getStringDefault(raw, "headcode", ""),
	}
	if p.Code == "" {
		p.Code = getStringDefault(raw, "id_sap", "")
	}
	return p
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array, skipping non-string and blank items
func getStringSlice(args map[string]interface{}, key string) []string {
	var out []string
	switch v := args[key].(type) {
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrPathIsDirectory = errors.New("path is a directory")
	ErrNotCSV          = errors.New("file must have a .csv extension")
)
