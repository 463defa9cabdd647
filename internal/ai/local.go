package ai

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"rag-chatbot-platform/internal/rag"
)

// HashEmbedder is the in-process embedding model. It hashes word unigrams and
// bigrams into a fixed number of signed buckets and L2-normalizes the result,
// so texts that share vocabulary land close together. It needs no network and
// is deterministic.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Name() string   { return "local/hash" }
func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) EmbedMany(ctx context.Context, texts []string) ([]rag.Embedding, error) {
	out := make([]rag.Embedding, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", rag.ErrEmbeddingUnavailable, err)
		}
		out[i] = h.embed(text)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedOne(ctx context.Context, text string) (rag.Embedding, error) {
	return embedOne(ctx, h, text)
}

func (h *HashEmbedder) embed(text string) rag.Embedding {
	v := make(rag.Embedding, h.dim)
	tokens := tokenize(text)
	for i, tok := range tokens {
		h.add(v, tok, 1)
		if i > 0 {
			h.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}
	return rag.Normalize(v)
}

func (h *HashEmbedder) add(v rag.Embedding, feature string, weight float32) {
	hasher := fnv.New64a()
	hasher.Write([]byte(feature))
	sum := hasher.Sum64()

	bucket := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[bucket] += weight
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "was": {}, "it": {}, "for": {}, "on": {}, "with": {}, "as": {},
	"be": {}, "at": {}, "by": {}, "this": {}, "that": {}, "do": {}, "does": {}, "i": {},
	"you": {}, "we": {}, "my": {}, "your": {}, "what": {}, "how": {},
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
