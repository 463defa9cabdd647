package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"rag-chatbot-platform/internal/database"
	"rag-chatbot-platform/internal/queue"
	"rag-chatbot-platform/internal/rag"
	"rag-chatbot-platform/middleware"
	"rag-chatbot-platform/models"
	"rag-chatbot-platform/services"
	"rag-chatbot-platform/utils"
)

type ChatbotStore interface {
	CreateChatbot(ctx context.Context, bot *models.Chatbot) error
	ChatbotByID(ctx context.Context, id string) (*models.Chatbot, error)
	ChatbotsByOwner(ctx context.Context, ownerID string) ([]models.Chatbot, error)
	Conversations(ctx context.Context, tenantID string, limit int) ([]models.Conversation, error)
}

// Chat is the retrieval core as the HTTP layer sees it.
type Chat interface {
	Ingest(ctx context.Context, tenantID string, in services.IngestSource) (*services.IngestResult, error)
	Answer(ctx context.Context, tenantID, question, sessionKey string) string
	Status(tenantID string) models.ChatbotStatus
}

type KeyVerifier interface {
	Verify(ctx context.Context, apiKey string) (string, error)
}

type KeyDigester interface {
	Digest(apiKey string) string
}

type IngestQueue interface {
	EnqueueIngest(ctx context.Context, p queue.IngestPayload) (string, error)
}

type Deps struct {
	Store    ChatbotStore
	Chat     Chat
	Keys     KeyVerifier
	Digester KeyDigester
	Queue    IngestQueue // optional; without it async training runs inline
	Logger   *slog.Logger

	PublicBaseURL string
	MaxFileSize   int64
}

// SetupRoutes registers the public chat endpoints and the owner dashboard API.
func SetupRoutes(router *gin.Engine, deps Deps, authMiddleware *middleware.AuthMiddleware) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/embed.js", handleEmbedScript())

	SetupChatRoutes(router, deps)
	SetupChatbotRoutes(router, deps, authMiddleware)
}

// ingestError classifies an ingestion failure as status, error_code and
// message.
func ingestError(err error) (int, string, string) {
	switch {
	case errors.Is(err, services.ErrInvalidSource):
		return http.StatusBadRequest, "invalid_source", "Provide exactly one of text, url or a PDF file"
	case errors.Is(err, rag.ErrEmptySource):
		return http.StatusUnprocessableEntity, "empty_source", "The source contains no usable text"
	case errors.Is(err, rag.ErrSourceFetchFailed):
		return http.StatusBadGateway, "scrape_failed", "Failed to fetch the training source"
	case errors.Is(err, rag.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable, "embedding_unavailable", "The embedding service is unavailable, try again later"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "Training took too long"
	default:
		return http.StatusInternalServerError, "internal_error", "Training failed"
	}
}

// respondIngestError is called with the previous index still serving.
func respondIngestError(c *gin.Context, err error) {
	status, code, message := ingestError(err)
	var details interface{}
	if code == "scrape_failed" {
		details = gin.H{"error": err.Error()}
	}
	utils.RespondWithError(c, status, code, message, details)
}

// ownedChatbot loads :id and checks it belongs to the calling owner. It writes
// the error response itself and returns nil when the request should stop.
func ownedChatbot(c *gin.Context, store ChatbotStore, id string) *models.Chatbot {
	ctx, cancel := utils.WithTimeout(c.Request.Context())
	defer cancel()

	bot, err := store.ChatbotByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		utils.RespondWithNotFound(c, "Chatbot not found")
		return nil
	}
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to load chatbot", nil)
		return nil
	}
	if bot.OwnerID != middleware.GetOwnerID(c) {
		utils.RespondWithNotFound(c, "Chatbot not found")
		return nil
	}
	c.Set("tenant_id", bot.TenantID())
	return bot
}
