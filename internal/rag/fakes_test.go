package rag

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// wordEmbedder counts vocabulary words; the last dimension is a constant bias
// so no vector is zero.
type wordEmbedder struct {
	vocab []string
	calls atomic.Int32
	err   error
}

func newWordEmbedder(vocab ...string) *wordEmbedder {
	return &wordEmbedder{vocab: vocab}
}

func (w *wordEmbedder) Name() string   { return "words" }
func (w *wordEmbedder) Dimension() int { return len(w.vocab) + 1 }

func (w *wordEmbedder) EmbedMany(ctx context.Context, texts []string) ([]Embedding, error) {
	w.calls.Add(1)
	if w.err != nil {
		return nil, w.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Embedding, len(texts))
	for i, text := range texts {
		v := make(Embedding, w.Dimension())
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			tok = strings.Trim(tok, ".,!?")
			for j, word := range w.vocab {
				if tok == word {
					v[j]++
				}
			}
		}
		v[len(w.vocab)] = 0.1
		out[i] = v
	}
	return out, nil
}

func (w *wordEmbedder) EmbedOne(ctx context.Context, text string) (Embedding, error) {
	vecs, err := w.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type fakeModel struct {
	mu      sync.Mutex
	reply   string
	err     error
	window  int
	prompts []string
}

func (m *fakeModel) Name() string       { return "fake" }
func (m *fakeModel) ContextWindow() int { return m.window }

func (m *fakeModel) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func (m *fakeModel) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}
