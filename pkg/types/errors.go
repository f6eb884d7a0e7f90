package types

import "errors"

// Domain errors shared across the catalog engine
var (
	// Retrieval errors. These never escape a search; tiers and signals
	// degrade to empty results or neutral scores when they occur.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrTransientIO          = errors.New("transient store error")

	// Startup errors. A missing store or embedding endpoint is fatal.
	ErrConfiguration = errors.New("invalid configuration")

	// Lookup and validation errors
	ErrNotFound           = errors.New("not found")
	ErrInvalidEntityKind  = errors.New("entity kind must be product or material")
	ErrInvalidInteraction = errors.New("interaction type must be view or reject")
	ErrMissingSession     = errors.New("session id is required")
	ErrMissingEntityCode  = errors.New("entity code is required")
	ErrUnknownIntent      = errors.New("unknown intent")
	ErrInvalidScore       = errors.New("score must be between 0 and 1")
	ErrInvalidRank        = errors.New("rank must be >= 1")
	ErrEmptyQuery         = errors.New("query cannot be empty")
)
