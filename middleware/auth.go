package middleware

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"rag-chatbot-platform/internal/auth"
	"rag-chatbot-platform/utils"
)

const ownerIDKey = "owner_id"

type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
}

func NewAuthMiddleware(tokens TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireOwner admits requests carrying a valid owner token in the
// Authorization header or the access_token cookie.
func (a *AuthMiddleware) RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.ExtractTokenFromHeader(c.GetHeader("Authorization"))
		if token == "" {
			if cookie, err := c.Cookie("access_token"); err == nil {
				token = cookie
			}
		}
		if token == "" {
			utils.RespondWithUnauthorized(c, "Authentication token is required")
			return
		}

		claims, err := a.tokens.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthorized) {
				utils.RespondWithUnauthorized(c, "Invalid or expired token")
			} else {
				utils.RespondWithServiceUnavailable(c, "Unable to verify token")
			}
			return
		}

		c.Set(ownerIDKey, claims.OwnerID)
		c.Set("claims", claims)
		c.Next()
	}
}

func GetOwnerID(c *gin.Context) string {
	return c.GetString(ownerIDKey)
}
