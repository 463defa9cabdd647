package rag

import (
	"context"
	"fmt"
	"math"
)

// Embedder maps text to fixed-dimension vectors. Implementations wrap
// backend failures with ErrEmbeddingUnavailable.
type Embedder interface {
	Name() string
	Dimension() int
	EmbedMany(ctx context.Context, texts []string) ([]Embedding, error)
	EmbedOne(ctx context.Context, text string) (Embedding, error)
}

// EmbedPassages embeds passage texts in batches and checks every returned
// vector against the embedder's declared dimension.
func EmbedPassages(ctx context.Context, e Embedder, passages []Passage, batchSize int) ([]Embedding, error) {
	if batchSize <= 0 {
		batchSize = 64
	}

	out := make([]Embedding, 0, len(passages))
	for start := 0; start < len(passages); start += batchSize {
		end := min(start+batchSize, len(passages))

		texts := make([]string, 0, end-start)
		for _, p := range passages[start:end] {
			texts = append(texts, p.Text)
		}

		vecs, err := e.EmbedMany(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts", ErrEmbeddingUnavailable, e.Name(), len(vecs), len(texts))
		}
		for _, v := range vecs {
			if err := CheckDimension(v, e.Dimension()); err != nil {
				return nil, err
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// CheckDimension reports ErrDimensionMismatch when v is not dim long.
func CheckDimension(v Embedding, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dim)
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is a zero vector.
func CosineSimilarity(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Normalize scales v to unit length in place and returns it.
func Normalize(v Embedding) Embedding {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := 1 / math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
