package rag

import "errors"

var (
	// ErrEmbeddingUnavailable means the embedding backend failed or timed out.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrDimensionMismatch means a vector does not have the index's dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrIndexNotReady means no chain is installed for the tenant.
	ErrIndexNotReady = errors.New("index not ready")
	// ErrGenerationFailed means the language model failed or timed out.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrSourceFetchFailed means a scrape or source load failed.
	ErrSourceFetchFailed = errors.New("source fetch failed")
	// ErrUnauthorized means the presented credential maps to no tenant.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmptySource means ingestion produced no passages.
	ErrEmptySource = errors.New("source contains no text")
	// ErrDuplicatePassage means two passages share an id within one index.
	ErrDuplicatePassage = errors.New("duplicate passage id")
)
