package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marsitschool/review-agent/internal/queue"
)

type QueueHandler struct {
	queue *queue.Service
}

func NewQueueHandler(q *queue.Service) *QueueHandler {
	return &QueueHandler{queue: q}
}

// List returns the current queue view without touching the network.
func (h *QueueHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, h.queue.Snapshot())
}

// Refresh refetches the pending list from the school API. On failure the
// previous items are still part of the response.
func (h *QueueHandler) Refresh(c *gin.Context) {
	if err := h.queue.Refresh(c.Request.Context()); err != nil {
		attachError(c, err)
		c.JSON(http.StatusBadGateway, h.queue.Snapshot())
		return
	}
	c.JSON(http.StatusOK, h.queue.Snapshot())
}

// Rules returns the rule catalog, sorted by category precedence.
func (h *QueueHandler) Rules(c *gin.Context) {
	rules, err := h.queue.Rules(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusBadGateway, "failed to load rules", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rules})
}
