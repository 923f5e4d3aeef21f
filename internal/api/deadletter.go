package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListDeadLetters returns the newest dead-lettered messages for triage.
func (r *Router) ListDeadLetters(c *gin.Context) {
	rows, err := r.deadLetters.List(c.Request.Context(), listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dead_letters": rows})
}
