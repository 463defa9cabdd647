package ai

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiModelBreakerOpens(t *testing.T) {
	var calls int
	failing := func(ctx context.Context, prompt string) (string, int, error) {
		calls++
		return "", 0, errors.New("503 unavailable")
	}
	m := newGeminiModel("gemini-test", 1000, failing, RateLimits{RPM: 6000}, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := m.Generate(context.Background(), "q")
		require.Error(t, err)
	}

	_, err := m.Generate(context.Background(), "q")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, calls)
}

func TestGeminiModelGenerate(t *testing.T) {
	ok := func(ctx context.Context, prompt string) (string, int, error) {
		return "echo: " + prompt, 7, nil
	}
	m := newGeminiModel("gemini-test", 1000, ok, RateLimits{RPM: 6000}, nil, nil)

	out, err := m.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", out)
	assert.Equal(t, 1000, m.ContextWindow())
}

func TestGeminiModelRateLimitHonorsContext(t *testing.T) {
	ok := func(ctx context.Context, prompt string) (string, int, error) { return "x", 1, nil }
	m := newGeminiModel("gemini-test", 0, ok, RateLimits{RPM: 1}, nil, nil)

	_, err := m.Generate(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Generate(ctx, "second")
	assert.Error(t, err)
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello "), genai.Text("world")}}},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
		},
	}
	assert.Equal(t, "Hello world", responseText(resp))
	assert.Equal(t, 2, tokenUsage(resp))
	assert.Equal(t, "", responseText(nil))

	resp.UsageMetadata = &genai.UsageMetadata{TotalTokenCount: 42}
	assert.Equal(t, 42, tokenUsage(resp))
}

func TestGeminiEmbedderLive(t *testing.T) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		t.Skip("GEMINI_API_KEY not set; skipping live embedding test")
	}

	e, err := NewGeminiEmbedder(context.Background(), key, "text-embedding-004", 768, nil)
	require.NoError(t, err)
	defer e.Close()

	vecs, err := e.EmbedMany(context.Background(), []string{"hello", "world"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 768)
}
