// Package rag holds the retrieval-augmented generation core: chunking,
// embedding contracts, the per-tenant vector index, retrieval, prompt
// assembly, answer generation, conversation sessions and the index registry.
package rag

import (
	"context"
	"time"
)

// Document is a unit of ingested source text.
type Document struct {
	Text     string
	Metadata map[string]any
}

// Passage is a contiguous span of a document. Start and End are rune offsets
// into the source document.
type Passage struct {
	ID       string
	Ordinal  int
	Start    int
	End      int
	Text     string
	Metadata map[string]any
}

// Embedding is a dense vector. Its length is fixed per embedder.
type Embedding []float32

// Turn is one question/answer exchange.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Identity is the bot persona rendered into every prompt.
type Identity struct {
	Name   string
	Origin string
}

// Source is everything needed to (re)build a tenant's chain.
type Source struct {
	Identity  Identity
	Documents []Document
}

// SourceFunc loads a tenant's stored source on a registry miss.
type SourceFunc func(ctx context.Context) (Source, error)

// Chain is the per-tenant unit cached by the registry.
type Chain struct {
	TenantID  string
	Identity  Identity
	Index     *Index
	Retriever *Retriever
	Generator *Generator
	BuiltAt   time.Time
}
