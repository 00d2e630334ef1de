package routes

import (
	"github.com/gin-gonic/gin"

	"civicfix-be/middlewares"
)

// AuthRoutes sets up the authentication routes
func AuthRoutes(r *gin.Engine, h Handlers) {
	auth := r.Group("/api/auth")
	{
		auth.POST("/register", h.Auth.RegisterUser)
		auth.POST("/login", h.Auth.LoginUser)
		auth.POST("/logout", h.Auth.LogoutUser)
		auth.GET("/me", middlewares.AuthMiddleware(h.Authenticator), h.Auth.GetMe)
	}
}
