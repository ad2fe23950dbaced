package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"maxprint.app/orderflow/internal/model"
)

// QueueDrainer runs one pass over the pending-operation queue.
type QueueDrainer interface {
	ProcessRetryQueue(ctx context.Context, maxItems int) (model.DrainStats, error)
}

// QueueHandler exposes the operator drain endpoint. The worker drains on a
// timer; this endpoint exists for manual intervention and runbooks.
type QueueHandler struct {
	drainer         QueueDrainer
	defaultMaxItems int
}

func NewQueueHandler(drainer QueueDrainer, defaultMaxItems int) *QueueHandler {
	return &QueueHandler{drainer: drainer, defaultMaxItems: defaultMaxItems}
}

// Drain processes due pending operations, up to max_items.
func (h *QueueHandler) Drain(c *gin.Context) {
	ctx := c.Request.Context()

	maxItems := h.defaultMaxItems
	if raw := c.Query("max_items"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_items must be a positive integer"})
			return
		}
		maxItems = n
	}

	stats, err := h.drainer.ProcessRetryQueue(ctx, maxItems)
	if err != nil {
		slog.ErrorContext(ctx, "queue drain failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "drain failed"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
