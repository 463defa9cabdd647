package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/internal/telemetry"
)

var tracer = otel.Tracer("rag-chatbot-platform/ai")

type RateLimits struct {
	RPM int // Requests per minute
	RPD int // Requests per day
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "tier1":
		return RateLimits{RPM: 1000, RPD: 10000}
	case "tier2":
		return RateLimits{RPM: 2000, RPD: 50000}
	default:
		return RateLimits{RPM: 10, RPD: 250}
	}
}

// NewBreaker returns the circuit breaker used in front of every hosted model.
func NewBreaker(name string, metrics *telemetry.Metrics, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.RecordCircuitBreakerState(name, to.String())
		},
	})
}

// completion is one raw model call: generated text and tokens consumed.
type completion func(ctx context.Context, prompt string) (string, int, error)

type GeminiConfig struct {
	APIKey          string
	Model           string
	Tier            string
	Temperature     float64
	MaxOutputTokens int
	ContextWindow   int
}

// GeminiModel is the hosted generation backend. Calls go through a rate
// limiter and a circuit breaker and are traced.
type GeminiModel struct {
	name    string
	window  int
	call    completion
	closer  func() error
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	metrics *telemetry.Metrics
}

func NewGeminiModel(ctx context.Context, cfg GeminiConfig, metrics *telemetry.Metrics, logger *slog.Logger) (*GeminiModel, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(float32(cfg.Temperature))
	model.SetTopP(0.8)
	model.SetTopK(40)
	if cfg.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(int32(cfg.MaxOutputTokens))
	}

	call := func(ctx context.Context, prompt string) (string, int, error) {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", 0, err
		}
		return responseText(resp), tokenUsage(resp), nil
	}

	m := newGeminiModel(cfg.Model, cfg.ContextWindow, call, getRateLimits(cfg.Tier), metrics, logger)
	m.closer = client.Close
	return m, nil
}

func newGeminiModel(name string, window int, call completion, limits RateLimits, metrics *telemetry.Metrics, logger *slog.Logger) *GeminiModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiModel{
		name:    name,
		window:  window,
		call:    call,
		breaker: NewBreaker("gemini", metrics, logger),
		// RPM limit with some buffer
		limiter: rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), max(limits.RPM/10, 1)),
		metrics: metrics,
	}
}

func (g *GeminiModel) Name() string       { return g.name }
func (g *GeminiModel) ContextWindow() int { return g.window }

func (g *GeminiModel) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "gemini.generate_content")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", g.name),
		attribute.Int("gemini.prompt_chars", len(prompt)),
	)

	if err := g.limiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		text, tokens, err := g.call(ctx, prompt)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.Int("gemini.actual_tokens", tokens))
		g.metrics.RecordTokensUsed(int64(tokens), g.name)
		return text, nil
	})
	g.metrics.RecordGeneration(g.name, err == nil)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return result.(string), nil
}

func (g *GeminiModel) Close() error {
	if g.closer != nil {
		return g.closer()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		// first candidate with content wins
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}

// tokenUsage prefers the reported usage and falls back to ~4 chars per token.
func tokenUsage(resp *genai.GenerateContentResponse) int {
	if resp == nil {
		return 0
	}
	if resp.UsageMetadata != nil && resp.UsageMetadata.TotalTokenCount > 0 {
		return int(resp.UsageMetadata.TotalTokenCount)
	}
	return max(len(responseText(resp))/4, 1)
}

// GeminiEmbedder calls the Google embedding API in batches.
type GeminiEmbedder struct {
	model   *genai.EmbeddingModel
	client  *genai.Client
	name    string
	dim     int
	metrics *telemetry.Metrics
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dim int, metrics *telemetry.Metrics) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiEmbedder{
		model:   client.EmbeddingModel(model),
		client:  client,
		name:    "google/" + model,
		dim:     dim,
		metrics: metrics,
	}, nil
}

func (e *GeminiEmbedder) Name() string   { return e.name }
func (e *GeminiEmbedder) Dimension() int { return e.dim }

func (e *GeminiEmbedder) EmbedMany(ctx context.Context, texts []string) ([]rag.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "gemini.batch_embed")
	defer span.End()
	span.SetAttributes(attribute.Int("embedding.texts", len(texts)))

	batch := e.model.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	resp, err := e.model.BatchEmbedContents(ctx, batch)
	e.metrics.RecordEmbedding("google", err == nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: google: %v", rag.ErrEmbeddingUnavailable, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: google returned %d embeddings for %d texts", rag.ErrEmbeddingUnavailable, len(resp.Embeddings), len(texts))
	}

	out := make([]rag.Embedding, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("%w: google returned an empty embedding", rag.ErrEmbeddingUnavailable)
		}
		if err := rag.CheckDimension(emb.Values, e.dim); err != nil {
			return nil, err
		}
		out[i] = emb.Values
	}
	return out, nil
}

func (e *GeminiEmbedder) EmbedOne(ctx context.Context, text string) (rag.Embedding, error) {
	return embedOne(ctx, e, text)
}

func (e *GeminiEmbedder) Close() error { return e.client.Close() }

func embedOne(ctx context.Context, e rag.Embedder, text string) (rag.Embedding, error) {
	vecs, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for one text", rag.ErrEmbeddingUnavailable, e.Name(), len(vecs))
	}
	return vecs[0], nil
}
