package push

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marsitschool/review-agent/pkg/logger"
	"github.com/marsitschool/review-agent/pkg/metrics"
)

const (
	maxPushPayloadBytes = 4096
	dashboardPath       = "/dashboard"
	fallbackTitle       = "Notification"
)

// Notification is one received push message in the agent's notification
// center.
type Notification struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Notifier presents a notification to the mentor.
type Notifier interface {
	Notify(title, body string)
}

// LogNotifier writes notifications to the agent log. The default when no
// desktop integration is plugged in.
type LogNotifier struct{}

func (LogNotifier) Notify(title, body string) {
	logger.Info("Notification", zap.String("title", title), zap.String("body", body))
}

// Receiver is the delivery endpoint push messages arrive at, plus the
// in-memory notification center behind it.
type Receiver struct {
	mu            sync.Mutex
	notifications []Notification

	manager  *Manager
	notifier Notifier
}

// NewReceiver creates a receiver decrypting with the manager's subscription.
func NewReceiver(manager *Manager, notifier Notifier) *Receiver {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Receiver{manager: manager, notifier: notifier}
}

// HandlePush is the gin handler for POST /push/:deviceId. Encrypted payloads
// carry Content-Encoding: aes128gcm; anything else is treated as plaintext.
// A payload that is not JSON still produces a notification with the raw text
// as its body.
func (r *Receiver) HandlePush(c *gin.Context) {
	deviceID := c.Param("deviceId")

	sub, ok := r.manager.Subscription()
	if !ok || sub.DeviceID != deviceID {
		metrics.PushEvents.WithLabelValues("delivery", "unknown_device").Inc()
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown device"})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushPayloadBytes))
	if err != nil {
		metrics.PushEvents.WithLabelValues("delivery", "read_error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	if c.GetHeader("Content-Encoding") == "aes128gcm" {
		payload, err = decryptPayload(sub.PrivateKey, sub.AuthSecret, payload)
		if err != nil {
			metrics.PushEvents.WithLabelValues("delivery", "decrypt_error").Inc()
			logger.Warn("Failed to decrypt push payload", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "undecryptable payload"})
			return
		}
	}

	title, body := parseNotification(payload)
	notification := Notification{
		ID:         uuid.NewString(),
		Title:      title,
		Body:       body,
		ReceivedAt: time.Now(),
	}

	r.mu.Lock()
	r.notifications = append(r.notifications, notification)
	r.mu.Unlock()

	r.notifier.Notify(title, body)
	metrics.PushEvents.WithLabelValues("delivery", "success").Inc()
	logger.Info("Push notification received", zap.String("title", title))

	c.JSON(http.StatusCreated, gin.H{"id": notification.ID})
}

// Notifications lists received notifications, newest first.
func (r *Receiver) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Notification, len(r.notifications))
	for i, n := range r.notifications {
		out[len(out)-1-i] = n
	}
	return out
}

// Acknowledge dismisses a notification and returns the path the UI should
// focus. Unknown ids report ok=false.
func (r *Receiver) Acknowledge(id string) (focus string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, n := range r.notifications {
		if n.ID == id {
			r.notifications = append(r.notifications[:i], r.notifications[i+1:]...)
			metrics.PushEvents.WithLabelValues("click", "success").Inc()
			return dashboardPath, true
		}
	}
	return "", false
}

// parseNotification decodes a {title, body} JSON document, falling back to
// treating the whole payload as plain text.
func parseNotification(payload []byte) (title, body string) {
	var message struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.Unmarshal(payload, &message); err == nil && message.Title != "" {
		return message.Title, message.Body
	}
	return fallbackTitle, string(payload)
}
