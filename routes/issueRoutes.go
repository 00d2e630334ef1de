package routes

import (
	"github.com/gin-gonic/gin"

	"civicfix-be/middlewares"
)

// IssueRoutes sets up the issue routes
func IssueRoutes(r *gin.Engine, h Handlers) {
	requireAuth := middlewares.AuthMiddleware(h.Authenticator)

	issue := r.Group("/api/issues")
	{
		issue.GET("", middlewares.OptionalAuth(h.Authenticator), h.Issues.GetAllIssues)
		issue.GET("/mine", requireAuth, h.Issues.GetMyIssues)
		issue.GET("/:id", middlewares.OptionalAuth(h.Authenticator), h.Issues.GetIssue)
		issue.GET("/:id/updates", h.Issues.GetIssueUpdates)
		issue.POST("", requireAuth, h.Issues.CreateIssue)
		issue.PUT("/:id", requireAuth, h.Issues.UpdateIssue)
		issue.DELETE("/:id", requireAuth, h.Issues.DeleteIssue)
	}
}

// AdminRoutes sets up the admin-only issue routes
func AdminRoutes(r *gin.Engine, h Handlers) {
	admin := r.Group("/api/admin", middlewares.AuthMiddleware(h.Authenticator), middlewares.AdminOnly())
	{
		admin.GET("/issues", h.Issues.GetAllIssues)
		admin.PUT("/issues/:id/status", h.Issues.UpdateStatus)
		admin.GET("/issues/:id/updates", h.Issues.GetIssueUpdates)
	}
}
