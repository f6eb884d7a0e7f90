// Package mcp implements the Model Context Protocol (MCP) server for the
// catalog search engine.
//
// The server exposes the engine to a chat assistant that has already
// classified the user's message:
//   - search_catalog: ranked hybrid search over products or materials
//   - handle_intent: answer a classified intent end to end
//   - cross_search: products made from a material, or materials of a product type
//   - product_cost: price a product from its bill of materials
//   - track_interaction: record a view or rejection for personalization
//   - submit_feedback: record which results answered a query
//   - get_suggestions: follow-up prompts stored for a session
//   - get_status: catalog counts and store health
//   - import_catalog: load products, materials or the bill of materials from CSV
//   - embed_catalog: generate missing embeddings
//
// # Basic Usage
//
// The server is started by the serve command and speaks JSON-RPC 2.0 on
// stdin and stdout:
//
//	catalog-mcp serve --config catalog.yaml
//
// # Tool: search_catalog
//
//	Request:
//	{
//	  "name": "search_catalog",
//	  "arguments": {
//	    "query": "bàn làm việc gỗ sồi",
//	    "entity_type": "product",
//	    "session_id": "chat-42",
//	    "limit": 10
//	  }
//	}
//
//	Response:
//	{
//	  "intent": "search_product",
//	  "method": "hybrid",
//	  "status": "ok",
//	  "items": [
//	    {"entity_code": "B001", "display_name": "Bàn làm việc gỗ sồi",
//	     "base_score": 0.92, "final_score": 0.71, "original_rank": 1, "final_rank": 1}
//	  ],
//	  "ranking_summary": {"total_items": 1, "boosted_items": 0, "ranking_applied": true},
//	  "suggested_prompts": ["Tính chi phí B001", "Xem vật liệu B001"]
//	}
//
// Retrieval failures are not errors: when every tier comes back empty the
// response has status "no_candidates" and an empty item list.
//
// # Session context
//
// Responses for a session_id are remembered. get_suggestions returns the
// last prompts, and cost or bill-of-materials intents without a headcode
// use the top product of the session's last search.
//
// # Catalog jobs
//
// import_catalog and embed_catalog share a lock. While one runs, the other
// is rejected with ErrorCodeJobInProgress and get_status reports
// job_running. Import paths must be absolute and name a .csv file.
//
// # Errors
//
// Tool errors are returned as MCPError values:
//
//	-32602  invalid parameters
//	-32603  internal error
//	-32001  product or material not found
//	-32002  catalog job in progress
//	-32003  session_id missing
//	-32004  query empty
//	-32005  unknown intent
//	-32006  interaction queue full, retry later
package mcp
