package indexer

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/catalog-mcp/internal/embedder"
	"github.com/dshills/catalog-mcp/internal/observability"
	"github.com/dshills/catalog-mcp/internal/storage"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// maxErrorMessages caps the per-run error list
const maxErrorMessages = 10

// Indexer embeds catalog rows and stores their vectors
type Indexer struct {
	storage  storage.Storage
	embedder embedder.Embedder
	log      *observability.Logger

	// Worker pool configuration
	workers int
}

// Config contains configuration for an embedding run
type Config struct {
	Workers   int                // Number of concurrent batches (default: runtime.NumCPU())
	BatchSize int                // Rows embedded and committed together (default: 32)
	Limit     int                // Rows per kind, 0 for all
	Force     bool               // Re-embed rows that already have a vector
	Kinds     []types.EntityKind // Defaults to products and materials
}

// Statistics contains statistics about an embedding run
type Statistics struct {
	Embedded      int
	Failed        int
	Scanned       int
	Duration      time.Duration
	ErrorMessages []string
}

// New creates a new Indexer instance
func New(store storage.Storage, emb embedder.Embedder, log *observability.Logger) *Indexer {
	return &Indexer{
		storage:  store,
		embedder: emb,
		log:      observability.OrNop(log).WithComponent("indexer"),
		workers:  runtime.NumCPU(),
	}
}

// EmbedCatalog generates vectors for catalog rows. By default only rows
// without a vector are processed. A failed batch is recorded and the run
// continues with the next one.
func (idx *Indexer) EmbedCatalog(ctx context.Context, config *Config) (*Statistics, error) {
	if config == nil {
		config = &Config{}
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.BatchSize > embedder.MaxBatchSize {
		config.BatchSize = embedder.MaxBatchSize
	}
	if len(config.Kinds) == 0 {
		config.Kinds = []types.EntityKind{types.KindProduct, types.KindMaterial}
	}
	idx.workers = config.Workers

	startTime := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}

	for _, kind := range config.Kinds {
		rows, err := idx.storage.ListEntities(ctx, kind, !config.Force, config.Limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s rows: %w", kind, err)
		}
		stats.Scanned += len(rows)
		if err := idx.embedRows(ctx, kind, rows, config.BatchSize, stats); err != nil {
			return nil, err
		}
	}

	stats.Duration = time.Since(startTime)
	idx.log.Info().
		Int("scanned", stats.Scanned).
		Int("embedded", stats.Embedded).
		Int("failed", stats.Failed).
		Dur("elapsed", stats.Duration).
		Msg("catalog embedding finished")
	return stats, nil
}

// embedRows embeds rows in concurrent batches
func (idx *Indexer) embedRows(ctx context.Context, kind types.EntityKind, rows []types.Entity, batchSize int, stats *Statistics) error {
	semaphore := make(chan struct{}, idx.workers)

	var (
		embedded int32
		failed   int32
		mu       sync.Mutex // Protect stats.ErrorMessages
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[i:end]

		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			n, err := idx.embedBatch(gctx, kind, batch)
			atomic.AddInt32(&embedded, int32(n))
			if err != nil {
				atomic.AddInt32(&failed, int32(len(batch)-n))
				mu.Lock()
				if len(stats.ErrorMessages) < maxErrorMessages {
					stats.ErrorMessages = append(stats.ErrorMessages,
						fmt.Sprintf("%s %s..%s: %v", kind, batch[0].Code, batch[len(batch)-1].Code, err))
				}
				mu.Unlock()
				idx.log.Warn().Err(err).Str("kind", string(kind)).Int("rows", len(batch)).Msg("embedding batch failed")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stats.Embedded += int(embedded)
	stats.Failed += int(failed)
	return nil
}

// embedBatch embeds one batch and stores the vectors in a transaction. It
// returns the number of rows stored.
func (idx *Indexer) embedBatch(ctx context.Context, kind types.EntityKind, batch []types.Entity) (int, error) {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].EmbeddingText()
		if texts[i] == "" {
			texts[i] = batch[i].Code
		}
	}

	resp, err := idx.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return 0, err
	}
	if len(resp.Embeddings) != len(batch) {
		return 0, fmt.Errorf("%w: got %d embeddings for %d rows", embedder.ErrProviderFailed, len(resp.Embeddings), len(batch))
	}

	tx, err := idx.storage.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, emb := range resp.Embeddings {
		if err := tx.UpdateEntityVector(ctx, kind, batch[i].Code, emb.Vector); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return len(batch), nil
}
