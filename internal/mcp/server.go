package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/catalog-mcp/internal/embedder"
	"github.com/dshills/catalog-mcp/internal/engine"
	"github.com/dshills/catalog-mcp/internal/feedback"
	"github.com/dshills/catalog-mcp/internal/indexer"
	"github.com/dshills/catalog-mcp/internal/observability"
	"github.com/dshills/catalog-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "catalog-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// ErrMissingDependency is returned when NewServer is given incomplete Deps
var ErrMissingDependency = errors.New("mcp server dependency missing")

// Deps are the application services exposed as tools
type Deps struct {
	Engine   *engine.Engine
	Feedback *feedback.Store
	Storage  storage.Storage
	Indexer  *indexer.Indexer
	Embedder embedder.Embedder
	Logger   *observability.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	engine   *engine.Engine
	feedback *feedback.Store
	storage  storage.Storage
	indexer  *indexer.Indexer
	embedder embedder.Embedder
	lock     indexer.IndexLock
	log      *observability.Logger
}

// NewServer creates a new MCP server instance. Engine, Feedback and
// Storage are required; without an Indexer the import and embedding tools
// report an internal error.
func NewServer(deps Deps) (*Server, error) {
	if deps.Engine == nil || deps.Feedback == nil || deps.Storage == nil {
		return nil, ErrMissingDependency
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		engine:   deps.Engine,
		feedback: deps.Feedback,
		storage:  deps.Storage,
		indexer:  deps.Indexer,
		embedder: deps.Embedder,
		log:      observability.OrNop(deps.Logger).WithComponent("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown. The
// caller owns the dependencies and closes them after Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info().Str("version", ServerVersion).Msg("serving MCP on stdio")
	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeStdio(s.mcp) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	// Retrieval
	s.mcp.AddTool(searchCatalogTool(), s.handleSearchCatalog)
	s.mcp.AddTool(handleIntentTool(), s.handleIntent)
	s.mcp.AddTool(crossSearchTool(), s.handleCrossSearch)
	s.mcp.AddTool(productCostTool(), s.handleProductCost)

	// Feedback and session state
	s.mcp.AddTool(trackInteractionTool(), s.handleTrackInteraction)
	s.mcp.AddTool(submitFeedbackTool(), s.handleSubmitFeedback)
	s.mcp.AddTool(getSuggestionsTool(), s.handleGetSuggestions)

	// Catalog maintenance
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(importCatalogTool(), s.handleImportCatalog)
	s.mcp.AddTool(embedCatalogTool(), s.handleEmbedCatalog)
}
