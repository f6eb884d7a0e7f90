package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/catalog-mcp/internal/embedder"
	"github.com/dshills/catalog-mcp/internal/engine"
	"github.com/dshills/catalog-mcp/internal/expander"
	"github.com/dshills/catalog-mcp/internal/feedback"
	"github.com/dshills/catalog-mcp/internal/indexer"
	"github.com/dshills/catalog-mcp/internal/kv"
	"github.com/dshills/catalog-mcp/internal/observability"
	"github.com/dshills/catalog-mcp/internal/relational"
	"github.com/dshills/catalog-mcp/internal/searcher"
	"github.com/dshills/catalog-mcp/internal/storage"
)

// app holds the wired services shared by the commands
type app struct {
	metrics  *observability.Metrics
	store    storage.Storage
	emb      embedder.Embedder
	sessions kv.Store
	feedback *feedback.Store
	engine   *engine.Engine
	indexer  *indexer.Indexer
}

// newApp opens the store and builds every service from the loaded config
func newApp(ctx context.Context) (*app, error) {
	a := &app{metrics: observability.NewMetrics()}

	emb, err := embedder.New(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	a.emb = emb

	store, err := storage.Open(ctx, cfg.Database, emb.Dimension(), storage.WithLogger(logger))
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store

	sessions, err := kv.Open(ctx, cfg.Cache)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	a.sessions = sessions

	a.feedback = feedback.NewStore(store, emb, feedback.Config{
		HistoryWindow:       cfg.Feedback.HistoryWindow,
		SimilarityThreshold: cfg.Feedback.SimilarityThreshold,
		MaxSimilarQueries:   cfg.Feedback.MaxSimilarQueries,
		QueueSize:           cfg.Feedback.QueueSize,
	}, logger, a.metrics)

	engineCfg := engine.DefaultConfig()
	engineCfg.DefaultLimit = cfg.Search.TopK
	engineCfg.SessionTTL = cfg.Cache.TTL

	a.engine = engine.New(engine.Deps{
		Storage:    store,
		Embedder:   emb,
		Executor:   searcher.New(store, cfg.Search, logger, a.metrics),
		Expander:   expander.New(cfg.Expansion, logger),
		Feedback:   a.feedback,
		Relational: relational.New(store, emb, relational.ConfigFrom(cfg.Search), logger),
		Sessions:   sessions,
		Logger:     logger,
		Metrics:    a.metrics,
	}, engineCfg)
	a.indexer = indexer.New(store, emb, logger)

	logger.Info().
		Str("driver", cfg.Database.Driver).
		Str("embedding_provider", emb.Provider()).
		Str("embedding_model", emb.Model()).
		Str("cache", cfg.Cache.Driver).
		Bool("expansion", cfg.Expansion.Enabled).
		Msg("services initialized")
	return a, nil
}

// Close drains the interaction queue before closing the stores
func (a *app) Close() error {
	var errs []error
	if a.feedback != nil {
		errs = append(errs, a.feedback.Close())
	}
	if a.sessions != nil {
		errs = append(errs, a.sessions.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.emb != nil {
		errs = append(errs, a.emb.Close())
	}
	return errors.Join(errs...)
}
