package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/derek-dv/errand-backend/internal/auth"
	"github.com/derek-dv/errand-backend/internal/model"
	"github.com/derek-dv/errand-backend/internal/repo"
)

const contextUserKey = "authenticated_user"

// AuthRequired validates the bearer token and binds the resolved identity
// to the request context.
func AuthRequired(tokens *auth.TokenManager, users repo.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "No token provided",
			})
			return
		}

		claims, err := tokens.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid token",
			})
			return
		}

		user, err := users.GetUser(c.Request.Context(), claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "User not found",
			})
			return
		}

		c.Set(contextUserKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *model.User {
	if v, ok := c.Get(contextUserKey); ok {
		if user, ok := v.(*model.User); ok {
			return user
		}
	}
	return nil
}
