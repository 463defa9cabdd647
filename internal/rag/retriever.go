package rag

import "context"

const DefaultTopK = 4

// Retriever embeds a query and returns the k most similar passages.
type Retriever struct {
	index    *Index
	embedder Embedder
	k        int
}

func NewRetriever(index *Index, embedder Embedder, k int) *Retriever {
	if k <= 0 {
		k = DefaultTopK
	}
	return &Retriever{index: index, embedder: embedder, k: k}
}

func (r *Retriever) K() int { return r.k }

func (r *Retriever) Fetch(ctx context.Context, query string) ([]Passage, error) {
	scored, err := r.FetchScored(ctx, query)
	if err != nil {
		return nil, err
	}
	passages := make([]Passage, len(scored))
	for i, s := range scored {
		passages[i] = s.Passage
	}
	return passages, nil
}

func (r *Retriever) FetchScored(ctx context.Context, query string) ([]Scored, error) {
	if r.index.Len() == 0 {
		return nil, nil
	}
	q, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	return r.index.Query(q, r.k)
}
