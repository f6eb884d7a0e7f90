// Package feedback records session interactions and explicit selections
// and turns them into the personal and feedback ranking signals.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/catalog-mcp/internal/embedder"
	"github.com/dshills/catalog-mcp/internal/observability"
	"github.com/dshills/catalog-mcp/internal/storage"
	"github.com/dshills/catalog-mcp/pkg/types"
)

var (
	// ErrQueueFull is returned when the background writer cannot keep up
	ErrQueueFull = errors.New("interaction queue is full")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("feedback store is closed")
)

const writeTimeout = 5 * time.Second

// Config tunes history and feedback lookups
type Config struct {
	HistoryWindow       int     // newest events considered for affinity
	SimilarityThreshold float64 // minimum query similarity for feedback reuse
	MaxSimilarQueries   int
	QueueSize           int
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		HistoryWindow:       10,
		SimilarityThreshold: 0.85,
		MaxSimilarQueries:   20,
		QueueSize:           256,
	}
}

type writeJob struct {
	event *types.InteractionEvent
	done  chan struct{} // set for flush markers
}

// Store persists interactions asynchronously and computes signals from
// the stored history
type Store struct {
	db      storage.Storage
	emb     embedder.Embedder
	cfg     Config
	log     *observability.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan writeJob
	wg     sync.WaitGroup
}

// NewStore starts the background writer. Call Close to drain it.
func NewStore(db storage.Storage, emb embedder.Embedder, cfg Config, log *observability.Logger, metrics *observability.Metrics) *Store {
	def := DefaultConfig()
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.MaxSimilarQueries <= 0 {
		cfg.MaxSimilarQueries = def.MaxSimilarQueries
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}

	s := &Store{
		db:      db,
		emb:     emb,
		cfg:     cfg,
		log:     observability.OrNop(log).WithComponent("feedback"),
		metrics: metrics,
		queue:   make(chan writeJob, cfg.QueueSize),
	}
	s.wg.Add(1)
	go s.writer()
	return s
}

func (s *Store) writer() {
	defer s.wg.Done()
	for job := range s.queue {
		if job.done != nil {
			close(job.done)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := s.db.InsertInteraction(ctx, job.event); err != nil {
			s.log.Error().Err(err).
				Str("session_id", job.event.SessionID).
				Str("entity_code", job.event.EntityCode).
				Msg("failed to persist interaction")
		}
		cancel()
	}
}

// RecordInteraction validates the event and hands it to the background
// writer. It does not wait for the write.
func (s *Store) RecordInteraction(ctx context.Context, sessionID string, kind types.EntityKind, code string, vector []float32, interaction string) (*types.InteractionEvent, error) {
	typ, err := types.ParseInteractionType(interaction)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, interaction)
	}
	ev := &types.InteractionEvent{
		ID:           uuid.NewString(),
		SessionID:    strings.TrimSpace(sessionID),
		EntityKind:   kind,
		EntityCode:   strings.TrimSpace(code),
		EntityVector: vector,
		Type:         typ,
		Weight:       typ.Weight(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, writeJob{event: ev}, false); err != nil {
		return nil, err
	}
	s.metrics.IncInteraction(string(typ))
	return ev, nil
}

func (s *Store) enqueue(ctx context.Context, job writeJob, wait bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if wait {
		select {
		case s.queue <- job:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case s.queue <- job:
		return nil
	default:
		s.metrics.IncDropped()
		return ErrQueueFull
	}
}

// TrackEntity loads the entity's stored vector and records the interaction.
// Entities without an embedding are still recorded; they only add to the
// history count.
func (s *Store) TrackEntity(ctx context.Context, sessionID string, kind types.EntityKind, code, interaction string) (*types.InteractionEvent, error) {
	e, err := s.db.GetEntity(ctx, kind, code)
	if err != nil {
		return nil, err
	}
	if !e.HasVector() {
		s.log.Warn().Str("entity_code", code).Msg("tracking entity without embedding")
	}
	return s.RecordInteraction(ctx, sessionID, kind, code, e.Vector, interaction)
}

// Flush blocks until every event queued before the call is written
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := s.enqueue(ctx, writeJob{done: done}, true); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for queued ones to be written
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// HasHistory reports whether the session has any recorded interaction.
// Lookup errors count as no history.
func (s *Store) HasHistory(ctx context.Context, sessionID string) bool {
	if strings.TrimSpace(sessionID) == "" {
		return false
	}
	n, err := s.db.CountInteractions(ctx, sessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("history lookup failed")
		return false
	}
	return n > 0
}

// SubmitFeedback stores an explicit selection for query. The query
// embedding is stored as null when it cannot be computed; such records
// never match later queries.
func (s *Store) SubmitFeedback(ctx context.Context, sessionID, query string, kind types.EntityKind, selected, rejected []string) (*types.FeedbackRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, types.ErrMissingSession
	}
	if strings.TrimSpace(query) == "" {
		return nil, types.ErrEmptyQuery
	}
	rec := &types.FeedbackRecord{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Query:     query,
		Kind:      kind,
		Selected:  selected,
		Rejected:  rejected,
		CreatedAt: time.Now().UTC(),
	}
	vec, err := embedder.Vector(ctx, s.emb, query)
	if err != nil {
		s.metrics.IncEmbeddingErrors()
		s.log.Warn().Err(err).Msg("storing feedback without query embedding")
	} else {
		rec.QueryVector = vec
	}
	if err := s.db.UpsertFeedback(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
