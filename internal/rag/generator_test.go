package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorClean(t *testing.T) {
	g := NewGenerator(&fakeModel{}, GeneratorConfig{MaxResponseChars: 10})

	cases := []struct {
		name, raw, want string
	}{
		{"plain", "  Yes.  ", "Yes."},
		{"echoed prompt", "You are Bot...\nUser: hi\nAnswer: Hello", "Hello"},
		{"last marker wins", "Answer: one Answer: two", "two"},
		{"empty", "   ", FallbackAnswer},
		{"marker only", "Answer:", FallbackAnswer},
		{"truncated", "abcdefghijklmnop", "abcdefghij..."},
		{"runes", strings.Repeat("é", 12), strings.Repeat("é", 10) + "..."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, g.Clean(tc.raw))
		})
	}
}

func TestGeneratorFallbackOnModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("quota exceeded")}
	g := NewGenerator(model, GeneratorConfig{})

	answer, err := g.Generate(context.Background(), Prompt{Question: "hello?"})
	assert.Equal(t, FallbackAnswer, answer)
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestGeneratorTimeout(t *testing.T) {
	g := NewGenerator(slowModel{}, GeneratorConfig{Timeout: 20 * time.Millisecond, Fallback: "sorry"})

	answer, err := g.Generate(context.Background(), Prompt{Question: "q"})
	assert.Equal(t, "sorry", answer)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGeneratorRendersPrompt(t *testing.T) {
	model := &fakeModel{reply: "Answer: Thirty days."}
	g := NewGenerator(model, GeneratorConfig{})

	answer, err := g.Generate(context.Background(), Prompt{
		Identity: Identity{Name: "Bot"},
		Passages: []Passage{{Text: "Returns within thirty days."}},
		Question: "Return window?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Thirty days.", answer)
	assert.Contains(t, model.lastPrompt(), "Returns within thirty days.")
	assert.True(t, strings.HasSuffix(model.lastPrompt(), "User: Return window?\nAnswer:"))
}

func TestGeneratorFit(t *testing.T) {
	long := strings.Repeat("word ", 40)
	p := Prompt{
		Passages: []Passage{{ID: "best", Text: "top ranked"}, {ID: "worst", Text: long}},
		History:  []Turn{{Question: "old " + long, Answer: "x"}, {Question: "recent", Answer: "y"}},
		Question: "the question stays",
	}

	base := NewGenerator(&fakeModel{}, GeneratorConfig{})
	full := base.EstimateTokens(Assembler{}.Render(p))

	t.Run("unbounded window keeps everything", func(t *testing.T) {
		assert.Equal(t, p, base.Fit(p))
	})

	t.Run("drops lowest ranked passage first", func(t *testing.T) {
		g := NewGenerator(&fakeModel{window: full - 1}, GeneratorConfig{})
		got := g.Fit(p)
		require.Len(t, got.Passages, 1)
		assert.Equal(t, "best", got.Passages[0].ID)
		assert.Len(t, got.History, 2)
	})

	t.Run("then oldest turn", func(t *testing.T) {
		withoutPassages := p
		withoutPassages.Passages = nil
		withoutOld := withoutPassages
		withoutOld.History = p.History[1:]
		window := tokensFor(base, withoutOld)

		g := NewGenerator(&fakeModel{window: window}, GeneratorConfig{})
		got := g.Fit(p)
		assert.Empty(t, got.Passages)
		require.Len(t, got.History, 1)
		assert.Equal(t, "recent", got.History[0].Question)
	})

	t.Run("question survives a tiny window", func(t *testing.T) {
		g := NewGenerator(&fakeModel{window: 1}, GeneratorConfig{})
		got := g.Fit(p)
		assert.Empty(t, got.Passages)
		assert.Empty(t, got.History)
		assert.Equal(t, p.Question, got.Question)
	})

	t.Run("reserved output shrinks the budget", func(t *testing.T) {
		g := NewGenerator(&fakeModel{window: full + 10}, GeneratorConfig{ReservedOutputTokens: 11})
		got := g.Fit(p)
		require.Len(t, got.Passages, 1)
		assert.Equal(t, "best", got.Passages[0].ID)
	})

	t.Run("reserved output filling the window still bounds input", func(t *testing.T) {
		huge := Prompt{
			Passages: []Passage{{ID: "big", Text: strings.Repeat("x", 40000)}},
			History:  []Turn{{Question: strings.Repeat("y", 4000), Answer: "z"}},
			Question: "the question stays",
		}
		g := NewGenerator(&fakeModel{window: 512}, GeneratorConfig{ReservedOutputTokens: 512})
		got := g.Fit(huge)
		assert.Empty(t, got.Passages)
		assert.Empty(t, got.History)
		assert.Equal(t, huge.Question, got.Question)
		assert.Less(t, tokensFor(g, got), 512)
	})

	t.Run("input not mutated", func(t *testing.T) {
		g := NewGenerator(&fakeModel{window: 1}, GeneratorConfig{})
		_ = g.Fit(p)
		assert.Len(t, p.Passages, 2)
		assert.Len(t, p.History, 2)
	})
}

func tokensFor(g *Generator, p Prompt) int {
	return g.EstimateTokens(Assembler{}.Render(p))
}

func TestEstimateTokensMonotonic(t *testing.T) {
	g := NewGenerator(&fakeModel{}, GeneratorConfig{})
	prev := 0
	for n := 0; n < 50; n++ {
		got := g.EstimateTokens(strings.Repeat("a", n))
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
	assert.Equal(t, 3, g.EstimateTokens("abcdefghi"))
}

type slowModel struct{}

func (slowModel) Name() string       { return "slow" }
func (slowModel) ContextWindow() int { return 0 }
func (slowModel) Generate(ctx context.Context, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "late", nil
	}
}
