package routes

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed assets/embed.js
var embedScript []byte

// handleEmbedScript serves the chat widget referenced by every embed code.
func handleEmbedScript() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=3600")
		c.Data(http.StatusOK, "application/javascript; charset=utf-8", embedScript)
	}
}
