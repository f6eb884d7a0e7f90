package types

import (
	"strings"
	"time"
)

// InteractionType is the kind of signal a user sent about an entity
type InteractionType string

const (
	InteractionView   InteractionType = "view"
	InteractionReject InteractionType = "reject"
)

// ParseInteractionType validates an interaction type
func ParseInteractionType(s string) (InteractionType, error) {
	switch InteractionType(strings.ToLower(strings.TrimSpace(s))) {
	case InteractionView:
		return InteractionView, nil
	case InteractionReject:
		return InteractionReject, nil
	default:
		return "", ErrInvalidInteraction
	}
}

// Weight is +1 for views and -1 for rejections
func (t InteractionType) Weight() float64 {
	if t == InteractionReject {
		return -1
	}
	return 1
}

// InteractionEvent is one append-only row of a session's history
type InteractionEvent struct {
	ID           string
	SessionID    string
	EntityKind   EntityKind
	EntityCode   string
	EntityVector []float32 // nil when the entity has no embedding
	Type         InteractionType
	Weight       float64
	CreatedAt    time.Time
}

// Validate checks the event before it is persisted
func (e *InteractionEvent) Validate() error {
	if strings.TrimSpace(e.SessionID) == "" {
		return ErrMissingSession
	}
	if strings.TrimSpace(e.EntityCode) == "" {
		return ErrMissingEntityCode
	}
	if _, err := ParseInteractionType(string(e.Type)); err != nil {
		return err
	}
	return nil
}

// FeedbackRecord stores an explicit selection made for a query, keyed by
// the query embedding so later similar queries can reuse it.
type FeedbackRecord struct {
	ID          string
	SessionID   string
	Query       string
	QueryVector []float32 // nil when embedding failed at submission time
	Kind        EntityKind
	Selected    []string
	Rejected    []string
	CreatedAt   time.Time
}

// FeedbackMatch is a stored selection whose query is similar to the current one
type FeedbackMatch struct {
	Selected   []string
	Similarity float64
}
