package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"rag-chatbot-platform/internal/app"
	"rag-chatbot-platform/internal/config"
	"rag-chatbot-platform/internal/logger"
	"rag-chatbot-platform/internal/queue"
	"rag-chatbot-platform/internal/scheduler"
	"rag-chatbot-platform/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	lg := logger.InitLogger(cfg).With("process", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg, "rag-chatbot-worker")
	if err != nil {
		lg.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer shutdownTracer(context.Background())

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	redisOpt, err := queue.RedisConnOpt(cfg)
	if err != nil {
		lg.Error("invalid redis configuration", "error", err)
		os.Exit(1)
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			queue.QueueCritical: 6,
			queue.QueueDefault:  3,
			queue.QueueLow:      1,
		},
		StrictPriority: true,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			lg.Error("task failed", "type", task.Type(), "error", err)
		}),
	})

	// Each ingest here publishes an invalidation; API servers rebuild from the
	// stored text on their next question for that chatbot.
	processor := queue.NewTaskProcessor(a.Chat, func(ctx context.Context) error {
		return a.Chat.RefreshURLSources(ctx, a.Store)
	}, lg)
	mux := asynq.NewServeMux()
	processor.Register(mux)

	sched := scheduler.New(lg)
	if cfg.RefreshInterval > 0 {
		tasks := queue.NewClient(redisOpt)
		defer tasks.Close()
		if err := sched.Every("refresh-url-sources", cfg.RefreshInterval, tasks.EnqueueRefresh); err != nil {
			lg.Error("failed to schedule source refresh", "error", err)
			os.Exit(1)
		}
	}
	sched.Start()
	defer sched.Stop()

	lg.Info("starting worker",
		"concurrency", cfg.WorkerConcurrency,
		"refresh_interval", cfg.RefreshInterval.String(),
	)
	if err := server.Start(mux); err != nil {
		lg.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	lg.Info("shutting down worker")
	server.Shutdown()
}
