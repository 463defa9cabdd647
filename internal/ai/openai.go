package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/internal/telemetry"
)

type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     float64
	MaxOutputTokens int
	ContextWindow   int
}

// OllamaBaseURL normalizes an Ollama host to its OpenAI-compatible endpoint.
func OllamaBaseURL(host string) string {
	host = strings.TrimSuffix(strings.TrimSuffix(host, "/"), "/v1")
	return host + "/v1"
}

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// OpenAIModel generates with any OpenAI-compatible chat completion API: the
// hosted OpenAI service or a local small model served by Ollama.
type OpenAIModel struct {
	client  *openai.Client
	cfg     OpenAIConfig
	breaker *gobreaker.CircuitBreaker
	metrics *telemetry.Metrics
}

func NewOpenAIModel(cfg OpenAIConfig, metrics *telemetry.Metrics, logger *slog.Logger) *OpenAIModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIModel{
		client:  newOpenAIClient(cfg.APIKey, cfg.BaseURL),
		cfg:     cfg,
		breaker: NewBreaker("openai:"+cfg.Model, metrics, logger),
		metrics: metrics,
	}
}

func (m *OpenAIModel) Name() string       { return m.cfg.Model }
func (m *OpenAIModel) ContextWindow() int { return m.cfg.ContextWindow }

func (m *OpenAIModel) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "openai.chat_completion")
	defer span.End()
	span.SetAttributes(attribute.String("openai.model", m.cfg.Model))

	req := openai.ChatCompletionRequest{
		Model: m.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(m.cfg.Temperature),
	}
	if m.cfg.MaxOutputTokens > 0 {
		req.MaxTokens = m.cfg.MaxOutputTokens
	}

	result, err := m.breaker.Execute(func() (interface{}, error) {
		resp, err := m.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, parseAPIError(err)
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("empty completion response")
		}
		m.metrics.RecordTokensUsed(int64(resp.Usage.TotalTokens), m.cfg.Model)
		return resp.Choices[0].Message.Content, nil
	})
	m.metrics.RecordGeneration(m.cfg.Model, err == nil)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return result.(string), nil
}

// OpenAIEmbedder embeds through an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	dim     int
	metrics *telemetry.Metrics
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, dim int, metrics *telemetry.Metrics) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client:  newOpenAIClient(apiKey, baseURL),
		model:   openai.EmbeddingModel(model),
		dim:     dim,
		metrics: metrics,
	}
}

func (e *OpenAIEmbedder) Name() string   { return "openai/" + string(e.model) }
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

func (e *OpenAIEmbedder) EmbedMany(ctx context.Context, texts []string) ([]rag.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "openai.embed")
	defer span.End()
	span.SetAttributes(attribute.Int("embedding.texts", len(texts)))

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dim > 0 {
		req.Dimensions = e.dim
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	e.metrics.RecordEmbedding("openai", err == nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", rag.ErrEmbeddingUnavailable, parseAPIError(err))
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: openai returned %d embeddings for %d texts", rag.ErrEmbeddingUnavailable, len(resp.Data), len(texts))
	}

	out := make([]rag.Embedding, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", rag.ErrEmbeddingUnavailable, d.Index)
		}
		if err := rag.CheckDimension(d.Embedding, e.dim); err != nil {
			return nil, err
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (e *OpenAIEmbedder) EmbedOne(ctx context.Context, text string) (rag.Embedding, error) {
	return embedOne(ctx, e, text)
}

// parseAPIError extracts a readable message from OpenAI-style error bodies.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("api error %d: %s", reqErr.HTTPStatusCode, detail)
		}
		return fmt.Errorf("api error %d: %s", reqErr.HTTPStatusCode, string(reqErr.Body))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("api error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	return err
}

// extractDetail reads a {"detail": "..."} body, as returned by some compatible servers.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
