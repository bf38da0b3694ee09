package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marsitschool/review-agent/internal/push"
)

type NotificationsHandler struct {
	receiver *push.Receiver
}

func NewNotificationsHandler(receiver *push.Receiver) *NotificationsHandler {
	return &NotificationsHandler{receiver: receiver}
}

// List returns received notifications, newest first.
func (h *NotificationsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.receiver.Notifications()})
}

// Click dismisses a notification and tells the UI which view to focus,
// mirroring what clicking a desktop notification does.
func (h *NotificationsHandler) Click(c *gin.Context) {
	focus, ok := h.receiver.Acknowledge(c.Param("id"))
	if !ok {
		respondError(c, http.StatusNotFound, "unknown notification", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"focus": focus})
}
