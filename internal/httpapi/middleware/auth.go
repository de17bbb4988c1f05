package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-interview/internal/auth"
)

const UserIDKey = "user_id"

func extractBearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// AuthRequired resolves the caller from a bearer JWT and attaches it to
// the request context. With optional=true an absent token passes through
// without an identity so the handler can answer 401 in its own format.
func AuthRequired(secret string, optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			if optional {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": true, "message": "unauthorized"})
			return
		}

		id, err := auth.ParseJWT(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": true, "message": "invalid token"})
			return
		}

		c.Set(UserIDKey, id.UserID)
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}
