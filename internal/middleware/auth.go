package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/auth"
)

// TokenValidator resolves a bearer credential to an identity.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (auth.Identity, error)
}

// AuthMiddleware validates the bearer token and stores userID and username on the context.
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		id, err := validator.Validate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("userID", id.UserID)
		c.Set("username", id.Username)
		c.Next()
	}
}
