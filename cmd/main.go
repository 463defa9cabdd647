package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"rag-chatbot-platform/internal/app"
	"rag-chatbot-platform/internal/auth"
	"rag-chatbot-platform/internal/config"
	"rag-chatbot-platform/internal/logger"
	"rag-chatbot-platform/internal/queue"
	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/internal/scheduler"
	"rag-chatbot-platform/internal/telemetry"
	"rag-chatbot-platform/middleware"
	"rag-chatbot-platform/routes"
)

const apiKeyCacheTTL = 5 * time.Minute

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	lg := logger.InitLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg, "rag-chatbot-api")
	if err != nil {
		lg.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Indexes rebuilt by the worker replace ours on the next question.
	if err := a.Invalidator.Subscribe(ctx, a.Registry); err != nil {
		lg.Error("failed to subscribe to index invalidations", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(lg)
	if mem, ok := a.Sessions.(*rag.MemorySessions); ok {
		if err := sched.Every("session-sweep", time.Minute, func(context.Context) error {
			if n := mem.Sweep(cfg.SessionIdleTTL); n > 0 {
				lg.Debug("evicted idle sessions", "count", n)
			}
			return nil
		}); err != nil {
			lg.Error("failed to schedule session sweep", "error", err)
			os.Exit(1)
		}
	}
	sched.Start()
	defer sched.Stop()

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, 24*time.Hour, a.Redis)
	if err != nil {
		lg.Error("invalid token configuration", "error", err)
		os.Exit(1)
	}
	hasher := auth.NewKeyHasher(cfg.APIKeySecret)

	redisOpt, err := queue.RedisConnOpt(cfg)
	if err != nil {
		lg.Error("invalid redis configuration", "error", err)
		os.Exit(1)
	}
	tasks := queue.NewClient(redisOpt)
	defer tasks.Close()

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware("rag-chatbot-api"),
		middleware.EnrichTrace(),
		middleware.MetricsMiddleware(a.Metrics),
		middleware.RequestLogger(lg),
		middleware.CORS(cfg.CORSOrigins, routes.ChatPath),
		middleware.RequestSizeLimit(cfg.MaxFileSize+1<<20),
		middleware.RateLimitMiddleware(a.Redis, cfg.RateLimitReqs, time.Duration(cfg.RateLimitWindow)*time.Second, lg),
	)
	router.MaxMultipartMemory = cfg.MaxFileSize

	routes.SetupRoutes(router, routes.Deps{
		Store:         a.Store,
		Chat:          a.Chat,
		Keys:          auth.NewKeyVerifier(hasher, a.Store, apiKeyCacheTTL),
		Digester:      hasher,
		Queue:         tasks,
		Logger:        lg,
		PublicBaseURL: cfg.PublicBaseURL,
		MaxFileSize:   cfg.MaxFileSize,
	}, middleware.NewAuthMiddleware(tokens))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("server forced to shutdown", "error", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		lg.Warn("tracer shutdown failed", "error", err)
	}
	lg.Info("server exited")
}
