package routes

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rag-chatbot-platform/internal/auth"
	"rag-chatbot-platform/internal/queue"
	"rag-chatbot-platform/middleware"
	"rag-chatbot-platform/models"
	"rag-chatbot-platform/services"
	"rag-chatbot-platform/utils"
)

func SetupChatbotRoutes(router *gin.Engine, deps Deps, authMiddleware *middleware.AuthMiddleware) {
	api := router.Group("/api")
	api.Use(authMiddleware.RequireOwner())

	api.POST("/chatbots", handleCreateChatbot(deps))
	api.GET("/chatbots", handleListChatbots(deps))
	api.POST("/chatbots/:id/train", handleTrain(deps))
	api.GET("/chatbots/:id/status", handleStatus(deps))
	api.GET("/conversations/:id", handleConversations(deps))
}

func embedCode(baseURL, apiKey string) string {
	return fmt.Sprintf(`<script src="%s/embed.js" data-chatbot-key="%s"></script>`, baseURL, apiKey)
}

// handleCreateChatbot creates the tenant, then trains it from the website or
// the supplied text. The API key is returned only here, so a failed first
// ingestion still answers 201 and reports the failure in training_error.
func handleCreateChatbot(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreateChatbotRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_input", "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		if req.WebsiteURL != "" && strings.TrimSpace(req.TrainingText) != "" {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_source", "Provide either website_url or training_text, not both", nil)
			return
		}

		apiKey := auth.GenerateAPIKey()
		bot := &models.Chatbot{
			OwnerID:      middleware.GetOwnerID(c),
			Name:         strings.TrimSpace(req.Name),
			WebsiteURL:   strings.TrimSpace(req.WebsiteURL),
			APIKeyDigest: deps.Digester.Digest(apiKey),
			APIKeyHint:   auth.KeyHint(apiKey),
		}

		ctx, cancel := utils.WithTimeout(c.Request.Context())
		err := deps.Store.CreateChatbot(ctx, bot)
		cancel()
		if err != nil {
			deps.Logger.Error("failed to create chatbot", "owner_id", bot.OwnerID, "error", err)
			utils.RespondWithInternalError(c, "Failed to create chatbot", nil)
			return
		}
		c.Set("tenant_id", bot.TenantID())

		resp := models.CreateChatbotResponse{
			ChatbotID: bot.TenantID(),
			APIKey:    apiKey,
			EmbedCode: embedCode(deps.PublicBaseURL, apiKey),
		}

		src := services.IngestSource{URL: bot.WebsiteURL, Text: req.TrainingText}
		if src.URL != "" || strings.TrimSpace(src.Text) != "" {
			res, err := deps.Chat.Ingest(c.Request.Context(), bot.TenantID(), src)
			if err != nil {
				_, resp.TrainingError, _ = ingestError(err)
			} else {
				resp.Passages = res.Passages
			}
		}

		deps.Logger.Info("chatbot created", "chatbot_id", bot.TenantID(), "owner_id", bot.OwnerID, "passages", resp.Passages)
		c.JSON(http.StatusCreated, resp)
	}
}

func handleListChatbots(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		bots, err := deps.Store.ChatbotsByOwner(ctx, middleware.GetOwnerID(c))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list chatbots", nil)
			return
		}

		out := make([]gin.H, 0, len(bots))
		for _, b := range bots {
			out = append(out, gin.H{
				"id":           b.TenantID(),
				"name":         b.Name,
				"website_url":  b.WebsiteURL,
				"api_key_hint": b.APIKeyHint,
				"created_at":   b.CreatedAt,
				"status":       deps.Chat.Status(b.TenantID()).State,
			})
		}
		c.JSON(http.StatusOK, gin.H{"chatbots": out, "count": len(out)})
	}
}

// handleTrain replaces a chatbot's source with text, a URL or an uploaded PDF
// (multipart field "file"). With async set the work is queued.
func handleTrain(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		bot := ownedChatbot(c, deps.Store, c.Param("id"))
		if bot == nil {
			return
		}

		var req models.TrainRequest
		if err := c.ShouldBind(&req); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_input", "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		src := services.IngestSource{Text: req.Text, URL: strings.TrimSpace(req.URL)}

		if file, err := c.FormFile("file"); err == nil {
			data, err := readPDFUpload(file, deps.MaxFileSize)
			if err != nil {
				utils.RespondWithBadRequest(c, err.Error(), nil)
				return
			}
			src.PDF = data
			src.Filename = file.Filename
		} else if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
			utils.RespondWithBadRequest(c, "Invalid file upload", gin.H{"error": err.Error()})
			return
		}

		if req.Async && deps.Queue != nil {
			taskID, err := deps.Queue.EnqueueIngest(c.Request.Context(), queue.IngestPayload{
				ChatbotID: bot.TenantID(),
				Text:      src.Text,
				URL:       src.URL,
				PDF:       src.PDF,
				Filename:  src.Filename,
			})
			if err != nil {
				deps.Logger.Error("failed to enqueue training", "chatbot_id", bot.TenantID(), "error", err)
				utils.RespondWithServiceUnavailable(c, "Failed to queue training")
				return
			}
			c.JSON(http.StatusAccepted, models.TrainResponse{
				ChatbotID: bot.TenantID(),
				Status:    "queued",
				TaskID:    taskID,
			})
			return
		}

		res, err := deps.Chat.Ingest(c.Request.Context(), bot.TenantID(), src)
		if err != nil {
			respondIngestError(c, err)
			return
		}
		c.JSON(http.StatusOK, models.TrainResponse{
			ChatbotID: bot.TenantID(),
			Status:    "ready",
			Passages:  res.Passages,
		})
	}
}

func readPDFUpload(file *multipart.FileHeader, maxSize int64) ([]byte, error) {
	if maxSize > 0 && file.Size > maxSize {
		return nil, fmt.Errorf("file exceeds maximum size of %d MB", maxSize/(1024*1024))
	}
	if !strings.HasSuffix(strings.ToLower(file.Filename), ".pdf") {
		return nil, fmt.Errorf("only PDF files are supported")
	}

	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file")
	}
	if !strings.HasPrefix(string(data[:min(len(data), 5)]), "%PDF-") {
		return nil, fmt.Errorf("file is not a valid PDF")
	}
	return data, nil
}

func handleStatus(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		bot := ownedChatbot(c, deps.Store, c.Param("id"))
		if bot == nil {
			return
		}
		c.JSON(http.StatusOK, deps.Chat.Status(bot.TenantID()))
	}
}
