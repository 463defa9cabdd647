// Package queue moves slow ingestion work onto asynq workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"rag-chatbot-platform/internal/config"
	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/services"
)

const (
	TaskIngest         = "chatbot:ingest"
	TaskRefreshSources = "chatbot:refresh_sources"

	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

type IngestPayload struct {
	ChatbotID string `json:"chatbot_id"`
	Text      string `json:"text,omitempty"`
	URL       string `json:"url,omitempty"`
	PDF       []byte `json:"pdf,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

func NewIngestTask(p IngestPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskIngest,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Queue(QueueDefault),
	), nil
}

func NewRefreshSourcesTask() *asynq.Task {
	return asynq.NewTask(
		TaskRefreshSources,
		nil,
		asynq.MaxRetry(1),
		asynq.Timeout(time.Hour),
		asynq.Queue(QueueLow),
		// one refresh at a time across workers
		asynq.Unique(30*time.Minute),
	)
}

// RedisConnOpt derives asynq's connection settings from REDIS_URL.
func RedisConnOpt(cfg *config.Config) (asynq.RedisClientOpt, error) {
	opt, err := config.RedisOptions(cfg)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}

// Client enqueues tasks.
type Client struct {
	client *asynq.Client
}

func NewClient(opt asynq.RedisConnOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

func (c *Client) EnqueueIngest(ctx context.Context, p IngestPayload) (string, error) {
	task, err := NewIngestTask(p)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue ingest: %w", err)
	}
	return info.ID, nil
}

func (c *Client) EnqueueRefresh(ctx context.Context) error {
	_, err := c.client.EnqueueContext(ctx, NewRefreshSourcesTask())
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}

type Ingester interface {
	Ingest(ctx context.Context, tenantID string, in services.IngestSource) (*services.IngestResult, error)
}

// TaskProcessor handles queued tasks in the worker process.
type TaskProcessor struct {
	ingester Ingester
	refresh  func(ctx context.Context) error
	logger   *slog.Logger
}

func NewTaskProcessor(ingester Ingester, refresh func(ctx context.Context) error, logger *slog.Logger) *TaskProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskProcessor{ingester: ingester, refresh: refresh, logger: logger}
}

func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIngest, p.ProcessIngest)
	mux.HandleFunc(TaskRefreshSources, p.ProcessRefresh)
}

func (p *TaskProcessor) ProcessIngest(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if payload.ChatbotID == "" {
		return fmt.Errorf("missing chatbot_id: %w", asynq.SkipRetry)
	}

	p.logger.Info("processing ingest task", "tenant_id", payload.ChatbotID)
	res, err := p.ingester.Ingest(ctx, payload.ChatbotID, services.IngestSource{
		Text:     payload.Text,
		URL:      payload.URL,
		PDF:      payload.PDF,
		Filename: payload.Filename,
	})
	if err != nil {
		if permanent(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	p.logger.Info("ingest task done", "tenant_id", payload.ChatbotID, "passages", res.Passages)
	return nil
}

func (p *TaskProcessor) ProcessRefresh(ctx context.Context, _ *asynq.Task) error {
	if p.refresh == nil {
		return nil
	}
	return p.refresh(ctx)
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, rag.ErrEmptySource) ||
		errors.Is(err, services.ErrInvalidSource) ||
		errors.Is(err, rag.ErrDimensionMismatch)
}
