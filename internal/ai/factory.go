package ai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"rag-chatbot-platform/internal/config"
	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/internal/telemetry"
)

// NewEmbedder builds the configured embedder. When rdb is non-nil vectors are
// cached in Redis.
func NewEmbedder(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient, metrics *telemetry.Metrics, logger *slog.Logger) (rag.Embedder, error) {
	var base rag.Embedder
	switch cfg.EmbeddingsProvider {
	case "google", "":
		e, err := NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.GoogleEmbeddingsModel, cfg.VectorDimensions, metrics)
		if err != nil {
			return nil, err
		}
		base = e
	case "openai":
		base = NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIEmbeddingsModel, cfg.VectorDimensions, metrics)
	case "local":
		// hashing is cheaper than a cache round trip
		return NewHashEmbedder(cfg.VectorDimensions), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider: %s", cfg.EmbeddingsProvider)
	}

	if rdb == nil {
		return base, nil
	}
	return NewCachedEmbedder(base, rdb, cfg.EmbeddingCacheTTL, metrics, logger), nil
}

// NewModel builds the configured generation backend.
func NewModel(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, logger *slog.Logger) (rag.Model, error) {
	switch cfg.GenerationProvider {
	case "gemini", "":
		return NewGeminiModel(ctx, GeminiConfig{
			APIKey:          cfg.GeminiAPIKey,
			Model:           cfg.GeminiModel,
			Tier:            cfg.GeminiTier,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			ContextWindow:   cfg.ContextWindowTokens,
		}, metrics, logger)
	case "openai":
		return NewOpenAIModel(OpenAIConfig{
			APIKey:          cfg.OpenAIAPIKey,
			BaseURL:         cfg.OpenAIBaseURL,
			Model:           cfg.OpenAIChatModel,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			ContextWindow:   cfg.ContextWindowTokens,
		}, metrics, logger), nil
	case "ollama":
		return NewOpenAIModel(OpenAIConfig{
			APIKey:          "ollama",
			BaseURL:         OllamaBaseURL(cfg.OllamaBaseURL),
			Model:           cfg.OllamaModel,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			ContextWindow:   cfg.ContextWindowTokens,
		}, metrics, logger), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", cfg.GenerationProvider)
	}
}
