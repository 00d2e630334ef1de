package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"civicfix-be/models"
)

const (
	// CookieName carries the token for browser clients.
	CookieName = "auth_token"

	userKey = "user"
)

// Authenticator resolves a bearer token to the stored user it was issued
// for.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// AuthMiddleware requires a valid token in the Authorization header or the
// auth_token cookie.
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No authorization token provided"})
			c.Abort()
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), tokenString)
		if err != nil {
			RespondError(c, err)
			c.Abort()
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// OptionalAuth identifies the caller when a valid token is present and
// otherwise lets the request through anonymously.
func OptionalAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := extractToken(c); tokenString != "" {
			if user, err := auth.Authenticate(c.Request.Context(), tokenString); err == nil {
				c.Set(userKey, user)
			}
		}
		c.Next()
	}
}

// AdminOnly must run after AuthMiddleware.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CurrentActor(c).IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}

// CurrentActor returns the authenticated identity, or nil for anonymous
// callers.
func CurrentActor(c *gin.Context) *models.Actor {
	if user := CurrentUser(c); user != nil {
		return user.Actor()
	}
	return nil
}

func extractToken(c *gin.Context) string {
	// Extracting token from "Bearer <token>" format
	if authHeader := c.Request.Header.Get("Authorization"); authHeader != "" {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if cookie, err := c.Cookie(CookieName); err == nil {
		return cookie
	}
	return ""
}
