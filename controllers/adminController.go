package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"civicfix-be/middlewares"
	"civicfix-be/models"
)

// UpdateStatus moves an issue to a new status and returns it with its full
// history.
func (ic *IssueController) UpdateStatus(c *gin.Context) {
	id, ok := issueID(c)
	if !ok {
		return
	}

	var input struct {
		Status models.IssueStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := ic.context()
	defer cancel()

	issue, _, err := ic.engine.RequestTransition(ctx, id, input.Status, middlewares.CurrentActor(c))
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, issue)
}
