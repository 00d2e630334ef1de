package routes

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"civicfix-be/controllers"
	"civicfix-be/middlewares"
)

// Handlers bundles everything the routes dispatch to.
type Handlers struct {
	Auth   *controllers.AuthController
	Issues *controllers.IssueController
	// Authenticator resolves tokens for the auth middlewares.
	Authenticator middlewares.Authenticator
}

// SetupRoutes registers CORS, the health check and every API group on r.
func SetupRoutes(r *gin.Engine, h Handlers, origins []string) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	AuthRoutes(r, h)
	IssueRoutes(r, h)
	AdminRoutes(r, h)
}
