package middlewares

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"civicfix-be/services"
)

var statusByKind = []struct {
	kind   error
	status int
}{
	{services.ErrValidation, http.StatusBadRequest},
	{services.ErrUnauthenticated, http.StatusUnauthorized},
	{services.ErrInvalidCredentials, http.StatusUnauthorized},
	{services.ErrForbidden, http.StatusForbidden},
	{services.ErrNotFound, http.StatusNotFound},
	{services.ErrConflict, http.StatusConflict},
	{services.ErrEmailTaken, http.StatusConflict},
	{services.ErrIdempotentTransition, http.StatusUnprocessableEntity},
}

// RespondError writes err as {"error": message} with the status of its
// kind. Unknown errors are logged and hidden behind a 500.
func RespondError(c *gin.Context, err error) {
	for _, m := range statusByKind {
		if errors.Is(err, m.kind) {
			c.JSON(m.status, gin.H{"error": message(err)})
			return
		}
	}
	log.Printf("Error handling %s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong"})
}

func message(err error) string {
	var se *services.Error
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}
