// Package push implements both ends of the agent's web push pipeline: the
// subscription manager that registers with the school API after login, and
// the receiver endpoint push messages are delivered to.
package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marsitschool/review-agent/internal/models"
	"github.com/marsitschool/review-agent/pkg/logger"
	"github.com/marsitschool/review-agent/pkg/retry"
)

const subscriptionFile = "push_subscription.json"

// SubscribeAPI registers a subscription with the school API.
type SubscribeAPI interface {
	SubscribePush(ctx context.Context, req models.PushSubscribeRequest) error
}

// subscriptionRecord is the persisted subscription: one per agent install,
// reused across logins like a browser reuses its push subscription.
type subscriptionRecord struct {
	DeviceID   string `json:"deviceId"`
	PrivateKey string `json:"privateKey"`
	AuthSecret string `json:"authSecret"`
}

// Subscription is the decoded live subscription the receiver decrypts with.
type Subscription struct {
	DeviceID   string
	PrivateKey *ecdh.PrivateKey
	AuthSecret []byte
}

// Manager owns push subscription registration. Everything here is best
// effort: a failure is logged and swallowed, never surfaced to the login.
type Manager struct {
	mu              sync.Mutex
	enabled         bool
	vapidPublicKey  string
	callbackBaseURL string
	path            string
	api             SubscribeAPI
	current         *Subscription
}

// NewManager creates a push manager persisting its subscription under dataDir.
func NewManager(enabled bool, vapidPublicKey, callbackBaseURL, dataDir string, api SubscribeAPI) *Manager {
	return &Manager{
		enabled:         enabled,
		vapidPublicKey:  vapidPublicKey,
		callbackBaseURL: callbackBaseURL,
		path:            filepath.Join(dataDir, subscriptionFile),
		api:             api,
	}
}

// RegisterForUser subscribes the mentor to push notifications. Runs after a
// successful login and never reports failure to the caller.
func (m *Manager) RegisterForUser(user models.User) {
	if !m.enabled {
		logger.Info("Push disabled, skipping registration")
		return
	}

	if err := validateVAPIDKey(m.vapidPublicKey); err != nil {
		logger.Warn("Invalid VAPID public key, skipping push registration", zap.Error(err))
		return
	}

	sub, err := m.loadOrCreate()
	if err != nil {
		logger.Warn("Could not prepare push subscription", zap.Error(err))
		return
	}

	req := models.PushSubscribeRequest{
		Subscription: models.PushSubscription{
			Endpoint: m.callbackBaseURL + "/push/" + sub.DeviceID,
			Keys: models.PushSubscriptionKeys{
				P256dh: base64.RawURLEncoding.EncodeToString(sub.PrivateKey.PublicKey().Bytes()),
				Auth:   base64.RawURLEncoding.EncodeToString(sub.AuthSecret),
			},
		},
		UserID:   user.ID,
		UserType: "mentor",
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err = retry.Do(ctx, retry.SubscribeConfig(), "subscribePush", func() error {
		return m.api.SubscribePush(ctx, req)
	})
	if err != nil {
		logger.Warn("Push registration failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}

	logger.Info("Push subscription registered",
		zap.String("user_id", user.ID),
		zap.String("device_id", sub.DeviceID))
}

// Subscription returns the live subscription, if one exists.
func (m *Manager) Subscription() (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		// Pick up a subscription persisted by a previous run.
		if sub, err := m.load(); err == nil {
			m.current = sub
		}
	}
	return m.current, m.current != nil
}

// loadOrCreate returns the persisted subscription or generates a new one.
func (m *Manager) loadOrCreate() (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return m.current, nil
	}
	if sub, err := m.load(); err == nil {
		m.current = sub
		return sub, nil
	} else if !os.IsNotExist(err) {
		logger.Warn("Discarding unreadable push subscription", zap.Error(err))
	}

	privateKey, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	authSecret := make([]byte, authSecretLen)
	if _, err := rand.Read(authSecret); err != nil {
		return nil, fmt.Errorf("auth secret generation failed: %w", err)
	}

	sub := &Subscription{
		DeviceID:   uuid.NewString(),
		PrivateKey: privateKey,
		AuthSecret: authSecret,
	}
	if err := m.save(sub); err != nil {
		return nil, err
	}
	m.current = sub
	return sub, nil
}

func (m *Manager) load() (*Subscription, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}

	var record subscriptionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("corrupt subscription file: %w", err)
	}

	keyRaw, err := base64.RawURLEncoding.DecodeString(record.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("corrupt private key: %w", err)
	}
	privateKey, err := ecdh.P256().NewPrivateKey(keyRaw)
	if err != nil {
		return nil, fmt.Errorf("corrupt private key: %w", err)
	}
	authSecret, err := base64.RawURLEncoding.DecodeString(record.AuthSecret)
	if err != nil || len(authSecret) != authSecretLen {
		return nil, fmt.Errorf("corrupt auth secret")
	}

	return &Subscription{
		DeviceID:   record.DeviceID,
		PrivateKey: privateKey,
		AuthSecret: authSecret,
	}, nil
}

func (m *Manager) save(sub *Subscription) error {
	record := subscriptionRecord{
		DeviceID:   sub.DeviceID,
		PrivateKey: base64.RawURLEncoding.EncodeToString(sub.PrivateKey.Bytes()),
		AuthSecret: base64.RawURLEncoding.EncodeToString(sub.AuthSecret),
	}

	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write subscription: %w", err)
	}
	return os.Rename(tmp, m.path)
}

// validateVAPIDKey checks the server's application key is a base64url
// uncompressed P-256 point, the format a push subscribe call expects.
func validateVAPIDKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return fmt.Errorf("not base64url: %w", err)
	}
	if len(raw) != publicKeyLength || raw[0] != 0x04 {
		return fmt.Errorf("not an uncompressed P-256 point")
	}
	return nil
}
