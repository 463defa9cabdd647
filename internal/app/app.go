// Package app wires the retrieval core to its backing services. The HTTP
// server and the worker build the same graph from config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"rag-chatbot-platform/internal/ai"
	"rag-chatbot-platform/internal/config"
	"rag-chatbot-platform/internal/crawler"
	"rag-chatbot-platform/internal/database"
	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/internal/telemetry"
	"rag-chatbot-platform/services"
)

const embedBatchSize = 32

type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Metrics     *telemetry.Metrics
	Mongo       *mongo.Client
	Redis       *redis.Client
	Store       *database.Store
	Registry    *rag.Registry
	Sessions    rag.SessionStore
	Invalidator *services.Invalidator
	Chat        *services.ChatService
}

// New connects to MongoDB and Redis and assembles the chat service. The caller
// owns the returned App and must Close it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	a.Metrics = metrics

	a.Mongo, err = config.ConnectMongoDB(cfg)
	if err != nil {
		return nil, err
	}
	a.Redis, err = config.NewRedisClient(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = database.NewStore(a.Mongo.Database(cfg.DBName))

	embedder, err := ai.NewEmbedder(ctx, cfg, a.Redis, metrics, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	model, err := ai.NewModel(ctx, cfg, metrics, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init model: %w", err)
	}

	builder := &rag.Builder{
		Chunker:  rag.NewChunker(rag.WithChunkSize(cfg.ChunkSize), rag.WithOverlap(cfg.ChunkOverlap)),
		Embedder: embedder,
		Generator: rag.NewGenerator(model, rag.GeneratorConfig{
			MaxResponseChars:     cfg.MaxResponseChars,
			ReservedOutputTokens: cfg.MaxOutputTokens,
			Timeout:              cfg.GenerateTimeout,
		}),
		TopK:      cfg.RetrievalK,
		BatchSize: embedBatchSize,
	}
	a.Registry = rag.NewRegistry(builder,
		rag.WithBuildTimeout(cfg.BuildTimeout),
		rag.WithRegistryLogger(logger),
		rag.WithBuildObserver(func(tenantID string, passages int, took time.Duration, err error) {
			metrics.RecordIndexBuild(err == nil, took.Seconds(), passages)
		}),
	)

	if cfg.SessionBackend == "redis" {
		a.Sessions = rag.NewRedisSessions(a.Redis, cfg.SessionMaxTurns, cfg.SessionIdleTTL)
	} else {
		a.Sessions = rag.NewMemorySessions(cfg.SessionMaxTurns)
	}

	a.Invalidator = services.NewInvalidator(a.Redis, logger)

	a.Chat = services.NewChatService(services.ChatDeps{
		Registry: a.Registry,
		Sessions: a.Sessions,
		Store:    a.Store,
		Log:      a.Store,
		Scraper: crawler.New(crawler.Config{
			MaxPages: cfg.ScrapeMaxPages,
			MaxChars: cfg.ScrapeMaxChars,
			Timeout:  cfg.ScrapeTimeout,
			RenderJS: cfg.ScrapeRenderJS,
		}),
		Publisher: a.Invalidator,
		Metrics:   metrics,
		Logger:    logger,
	}, services.ChatConfig{
		EmbedTimeout:  cfg.EmbedTimeout,
		ScrapeTimeout: cfg.ScrapeTimeout,
	})

	logger.Info("application wired",
		"embedder", embedder.Name(),
		"model", model.Name(),
		"sessions", cfg.SessionBackend,
		"chunk_size", cfg.ChunkSize,
		"top_k", cfg.RetrievalK,
	)
	return a, nil
}

// Close waits for pending conversation writes, then disconnects.
func (a *App) Close() {
	if a.Chat != nil {
		a.Chat.Wait()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close failed", "error", err)
		}
	}
	if a.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Mongo.Disconnect(ctx); err != nil {
			a.Logger.Warn("mongo disconnect failed", "error", err)
		}
	}
}
