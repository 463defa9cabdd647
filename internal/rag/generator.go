package rag

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultMaxResponseChars = 500
	DefaultCharsPerToken    = 4

	// FallbackAnswer is returned whenever generation cannot produce a usable answer.
	FallbackAnswer = "I'm having trouble processing that right now. Could you rephrase your question?"
)

// Model is a text-generation backend. ContextWindow is its input budget in
// tokens; zero or less means unbounded.
type Model interface {
	Name() string
	ContextWindow() int
	Generate(ctx context.Context, prompt string) (string, error)
}

type GeneratorConfig struct {
	MaxResponseChars     int
	ReservedOutputTokens int
	CharsPerToken        int
	Timeout              time.Duration
	Fallback             string
}

// Generator turns a structured Prompt into a cleaned answer string.
type Generator struct {
	model     Model
	assembler Assembler
	cfg       GeneratorConfig
}

func NewGenerator(model Model, cfg GeneratorConfig) *Generator {
	if cfg.MaxResponseChars <= 0 {
		cfg.MaxResponseChars = DefaultMaxResponseChars
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = DefaultCharsPerToken
	}
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackAnswer
	}
	return &Generator{model: model, cfg: cfg}
}

func (g *Generator) ModelName() string { return g.model.Name() }

// Generate fits the prompt to the model's window, calls the model and cleans
// the output. The returned string is always safe to show: on model failure it
// is the fallback and err wraps ErrGenerationFailed for the caller to log.
func (g *Generator) Generate(ctx context.Context, p Prompt) (string, error) {
	text := g.assembler.Render(g.Fit(p))

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	raw, err := g.model.Generate(ctx, text)
	if err != nil {
		return g.cfg.Fallback, fmt.Errorf("%w: %s: %w", ErrGenerationFailed, g.model.Name(), err)
	}
	return g.Clean(raw), nil
}

// EstimateTokens approximates token count from rune count. It is monotonic in
// the length of s.
func (g *Generator) EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + g.cfg.CharsPerToken - 1) / g.cfg.CharsPerToken
}

// Fit drops the lowest-ranked passages, then the oldest turns, until the
// rendered prompt fits the model window less the reserved output. The
// question is never cut, so the budget is never below the question alone.
func (g *Generator) Fit(p Prompt) Prompt {
	window := g.model.ContextWindow()
	if window <= 0 {
		return p
	}
	bare := p
	bare.Passages, bare.History = nil, nil
	budget := max(window-g.cfg.ReservedOutputTokens, g.EstimateTokens(g.assembler.Render(bare)))

	p.Passages = slices.Clone(p.Passages)
	p.History = slices.Clone(p.History)
	for g.EstimateTokens(g.assembler.Render(p)) > budget {
		switch {
		case len(p.Passages) > 0:
			p.Passages = p.Passages[:len(p.Passages)-1]
		case len(p.History) > 0:
			p.History = p.History[1:]
		default:
			return p
		}
	}
	return p
}

// Clean strips an echoed prompt, trims, caps length and substitutes the
// fallback for empty output.
func (g *Generator) Clean(raw string) string {
	if i := strings.LastIndex(raw, AnswerMarker); i >= 0 {
		raw = raw[i+len(AnswerMarker):]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return g.cfg.Fallback
	}

	if utf8.RuneCountInString(raw) > g.cfg.MaxResponseChars {
		runes := []rune(raw)
		raw = string(runes[:g.cfg.MaxResponseChars]) + "..."
	}
	return raw
}
