package rag

import (
	"fmt"
	"maps"
	"strings"
	"unicode"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Chunker splits text into overlapping, size-bounded passages. Sizes are
// counted in runes.
type Chunker struct {
	size    int
	overlap int
}

type ChunkerOption func(*Chunker)

func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

func WithOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Split is shorthand for NewChunker(WithChunkSize(size), WithOverlap(overlap)).Split(text).
func Split(text string, size, overlap int) []Passage {
	return NewChunker(WithChunkSize(size), WithOverlap(overlap)).Split(text)
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into passages of at most Size runes. Each passage after the
// first starts exactly Overlap runes before the previous one ended. Cuts land
// on the latest paragraph break, line break, sentence end or whitespace in the
// back half of the window, and fall back to a hard cut.
func (c *Chunker) Split(text string) []Passage {
	return c.split(text, 0, nil)
}

// SplitDocuments splits every document in order. Passage ids are
// "<document>-<ordinal>" and metadata is copied from the owning document.
func (c *Chunker) SplitDocuments(docs []Document) []Passage {
	var out []Passage
	for i, doc := range docs {
		out = append(out, c.split(doc.Text, i, doc.Metadata)...)
	}
	return out
}

func (c *Chunker) split(text string, doc int, meta map[string]any) []Passage {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)

	var passages []Passage
	emit := func(start, end int) {
		body := string(runes[start:end])
		if strings.TrimSpace(body) == "" {
			return
		}
		ordinal := len(passages)
		passages = append(passages, Passage{
			ID:       fmt.Sprintf("%d-%d", doc, ordinal),
			Ordinal:  ordinal,
			Start:    start,
			End:      end,
			Text:     body,
			Metadata: maps.Clone(meta),
		})
	}

	start := 0
	for {
		end := start + c.size
		if end >= n {
			emit(start, n)
			break
		}

		// Never cut inside the overlap, so the next window always advances.
		lo := max(start+c.overlap+1, start+c.size/2)
		cut := breakPoint(runes, lo, end)
		emit(start, cut)
		start = cut - c.overlap
	}

	return passages
}

// breakPoint returns the best cut position p in [lo, hi]; the passage ends
// just before runes[p].
func breakPoint(runes []rune, lo, hi int) int {
	if lo > hi {
		return hi
	}
	rules := []func(p int) bool{
		func(p int) bool { return p >= 2 && runes[p-1] == '\n' && runes[p-2] == '\n' },
		func(p int) bool { return runes[p-1] == '\n' },
		func(p int) bool { return p >= 2 && unicode.IsSpace(runes[p-1]) && isSentenceEnd(runes[p-2]) },
		func(p int) bool { return unicode.IsSpace(runes[p-1]) },
	}
	for _, matches := range rules {
		for p := hi; p >= lo; p-- {
			if matches(p) {
				return p
			}
		}
	}
	return hi
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
