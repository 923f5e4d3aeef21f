package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orderlanelabs/orderlane/internal/outbox"
)

const defaultListLimit = 100

// ListOutbox returns outbox rows by status, FAILED by default since that is
// the operator's worklist.
func (r *Router) ListOutbox(c *gin.Context) {
	status := outbox.Status(c.DefaultQuery("status", string(outbox.StatusFailed)))
	switch status {
	case outbox.StatusPending, outbox.StatusPublished, outbox.StatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	records, err := r.outbox.ListByStatus(c.Request.Context(), status, listLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records})
}

// RepublishOutbox is the explicit operational action that puts a FAILED row
// back in front of the publisher.
func (r *Router) RepublishOutbox(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	reset, err := r.outbox.Republish(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !reset {
		c.JSON(http.StatusConflict, gin.H{"error": "record is not in FAILED status"})
		return
	}

	r.logger.Info("outbox_republished", zap.Int64("record_id", id))
	c.JSON(http.StatusOK, gin.H{"status": "republish_enqueued", "record_id": strconv.FormatInt(id, 10)})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func listLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}
