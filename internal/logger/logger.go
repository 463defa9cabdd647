package logger

import (
	"io"
	"log/slog"
	"os"

	"rag-chatbot-platform/internal/config"
)

var Logger *slog.Logger

// InitLogger initializes structured JSON logging based on configuration and
// installs it as the slog default.
func InitLogger(cfg *config.Config) *slog.Logger {
	return initWith(os.Stdout, cfg)
}

func initWith(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.GinMode == "debug" {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.GinMode == "debug",
	})
	Logger = slog.New(handler).With("service", "rag-chatbot")
	slog.SetDefault(Logger)

	Logger.Debug("Structured logging initialized", "level", level.String())
	return Logger
}

// L returns the configured logger, or the slog default before InitLogger runs.
func L() *slog.Logger {
	if Logger != nil {
		return Logger
	}
	return slog.Default()
}

func Info(msg string, args ...any)  { L().Info(msg, args...) }
func Error(msg string, args ...any) { L().Error(msg, args...) }
func Debug(msg string, args ...any) { L().Debug(msg, args...) }
func Warn(msg string, args ...any)  { L().Warn(msg, args...) }
