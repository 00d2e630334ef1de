package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicfix-be/middlewares"
	"civicfix-be/services"
)

type IssueController struct {
	issues  *services.IssueService
	queries *services.QueryService
	engine  *services.TransitionEngine
	timeout time.Duration
}

func NewIssueController(issues *services.IssueService, queries *services.QueryService, engine *services.TransitionEngine, timeout time.Duration) *IssueController {
	return &IssueController{issues: issues, queries: queries, engine: engine, timeout: timeout}
}

func (ic *IssueController) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ic.timeout)
}

// issueID parses the :id path parameter, writing a 400 when it is malformed.
func issueID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid issue ID"})
		return id, false
	}
	return id, true
}

// GetAllIssues lists issues, optionally filtered by category and status
func (ic *IssueController) GetAllIssues(c *gin.Context) {
	var query services.ListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := ic.context()
	defer cancel()

	issues, err := ic.queries.List(ctx, query)
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, issues)
}

// GetMyIssues lists the issues reported by the authenticated user
func (ic *IssueController) GetMyIssues(c *gin.Context) {
	var query services.ListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := ic.context()
	defer cancel()

	issues, err := ic.queries.ListMine(ctx, query, middlewares.CurrentActor(c))
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, issues)
}

// GetIssue returns an issue with its reporter and status history
func (ic *IssueController) GetIssue(c *gin.Context) {
	id, ok := issueID(c)
	if !ok {
		return
	}

	ctx, cancel := ic.context()
	defer cancel()

	issue, err := ic.issues.Get(ctx, id, middlewares.CurrentActor(c))
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

// GetIssueUpdates returns the status history of an issue, oldest first
func (ic *IssueController) GetIssueUpdates(c *gin.Context) {
	id, ok := issueID(c)
	if !ok {
		return
	}

	ctx, cancel := ic.context()
	defer cancel()

	updates, err := ic.engine.History(ctx, id)
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updates)
}

// CreateIssue accepts JSON or multipart form data with an optional photo
func (ic *IssueController) CreateIssue(c *gin.Context) {
	var draft services.IssueDraft
	if err := c.ShouldBind(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var photo *services.Photo
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("photo")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid photo upload"})
			return
		default:
			f, err := fh.Open()
			if err != nil {
				middlewares.RespondError(c, err)
				return
			}
			defer f.Close()
			photo = &services.Photo{Reader: f, Size: fh.Size, ContentType: fh.Header.Get("Content-Type")}
		}
	}

	ctx, cancel := ic.context()
	defer cancel()

	issue, err := ic.issues.Create(ctx, draft, photo, middlewares.CurrentActor(c))
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, issue)
}

// UpdateIssue edits the reporter-owned fields of an issue. A status in the
// body is ignored.
func (ic *IssueController) UpdateIssue(c *gin.Context) {
	id, ok := issueID(c)
	if !ok {
		return
	}

	var patch services.IssuePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := ic.context()
	defer cancel()

	issue, err := ic.issues.UpdateFields(ctx, id, patch, middlewares.CurrentActor(c))
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}

// DeleteIssue removes an issue, its history and its photo
func (ic *IssueController) DeleteIssue(c *gin.Context) {
	id, ok := issueID(c)
	if !ok {
		return
	}

	ctx, cancel := ic.context()
	defer cancel()

	if err := ic.issues.Delete(ctx, id, middlewares.CurrentActor(c)); err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Issue deleted successfully"})
}
