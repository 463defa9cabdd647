package rag

import (
	"fmt"
	"sort"
)

// Metric names the similarity function an index ranks by. It is fixed for
// the lifetime of an index.
type Metric string

const MetricCosine Metric = "cosine"

// Index is an immutable set of passages and their embeddings. A rebuilt index
// replaces the old one wholesale, so readers of the old index are unaffected.
type Index struct {
	dim      int
	metric   Metric
	passages []Passage
	vectors  []Embedding
}

// Scored is a passage with its similarity to the query.
type Scored struct {
	Passage Passage
	Score   float64
}

// BuildIndex validates and freezes passages with their embeddings. Inputs are
// copied, so later mutation by the caller does not affect the index.
func BuildIndex(dim int, passages []Passage, vectors []Embedding) (*Index, error) {
	if len(passages) != len(vectors) {
		return nil, fmt.Errorf("passages and vectors length mismatch: %d != %d", len(passages), len(vectors))
	}

	seen := make(map[string]struct{}, len(passages))
	ix := &Index{
		dim:      dim,
		metric:   MetricCosine,
		passages: make([]Passage, len(passages)),
		vectors:  make([]Embedding, len(vectors)),
	}
	for i, p := range passages {
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePassage, p.ID)
		}
		seen[p.ID] = struct{}{}
		if err := CheckDimension(vectors[i], dim); err != nil {
			return nil, fmt.Errorf("passage %s: %w", p.ID, err)
		}
		ix.passages[i] = p
		ix.vectors[i] = append(Embedding(nil), vectors[i]...)
	}
	return ix, nil
}

func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.passages)
}

func (ix *Index) Dimension() int { return ix.dim }
func (ix *Index) Metric() Metric { return ix.metric }

// Query returns up to k passages ranked by descending similarity. Equal
// scores keep insertion order. An empty index returns nothing for any query.
func (ix *Index) Query(q Embedding, k int) ([]Scored, error) {
	if ix.Len() == 0 || k <= 0 {
		return nil, nil
	}
	if err := CheckDimension(q, ix.dim); err != nil {
		return nil, err
	}

	results := make([]Scored, len(ix.passages))
	for i := range ix.passages {
		results[i] = Scored{Passage: ix.passages[i], Score: CosineSimilarity(ix.vectors[i], q)}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}
