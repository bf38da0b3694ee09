package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	startedAt   time.Time
	pushEnabled bool
}

func NewHealthHandler(pushEnabled bool) *HealthHandler {
	return &HealthHandler{
		startedAt:   time.Now(),
		pushEnabled: pushEnabled,
	}
}

func (h *HealthHandler) Healthcheck(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")

	push := "disabled"
	if h.pushEnabled {
		push = "enabled"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"push":           push,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}
