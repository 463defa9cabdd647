package routes

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rag-chatbot-platform/internal/auth"
	"rag-chatbot-platform/internal/database"
	"rag-chatbot-platform/models"
	"rag-chatbot-platform/services"
	"rag-chatbot-platform/utils"
)

const ChatPath = "/api/chat"

func SetupChatRoutes(router *gin.Engine, deps Deps) {
	router.POST(ChatPath, handleChat(deps))
}

// handleChat answers a widget question. Once the key checks out the response
// is always 200 with displayable text.
func handleChat(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithError(c, http.StatusBadRequest, "invalid_input", "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		tenantID, err := deps.Keys.Verify(c.Request.Context(), req.ChatbotAPIKey)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				utils.RespondWithUnauthorized(c, "Invalid chatbot API key")
				return
			}
			deps.Logger.Error("api key verification failed", "error", err)
			utils.RespondWithServiceUnavailable(c, "Unable to verify chatbot API key")
			return
		}
		c.Set("tenant_id", tenantID)

		sessionKey := req.SessionID
		if sessionKey == "" {
			sessionKey = "ip:" + c.ClientIP()
		}

		answer := deps.Chat.Answer(c.Request.Context(), tenantID, req.Message, sessionKey)
		c.JSON(http.StatusOK, models.ChatResponse{Response: answer})
	}
}

func handleConversations(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		bot := ownedChatbot(c, deps.Store, c.Param("id"))
		if bot == nil {
			return
		}

		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		convs, err := deps.Store.Conversations(ctx, bot.TenantID(), database.DefaultConversationLimit)
		if err != nil {
			deps.Logger.Error("failed to load conversations", "chatbot_id", bot.TenantID(), "error", err)
			utils.RespondWithInternalError(c, "Failed to load conversations", nil)
			return
		}

		if c.Query("format") == "xlsx" {
			data, err := services.ExportConversationsXLSX(bot.Name, convs)
			if err != nil {
				deps.Logger.Error("conversation export failed", "chatbot_id", bot.TenantID(), "error", err)
				utils.RespondWithInternalError(c, "Failed to export conversations", nil)
				return
			}
			filename := fmt.Sprintf("conversations_%s_%s.xlsx", bot.TenantID(), time.Now().UTC().Format("20060102"))
			c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
			c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"chatbot_id":    bot.TenantID(),
			"conversations": convs,
			"count":         len(convs),
		})
	}
}
