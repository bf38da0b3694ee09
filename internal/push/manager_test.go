package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marsitschool/review-agent/internal/models"
)

type fakeSubscribeAPI struct {
	mu       sync.Mutex
	requests []models.PushSubscribeRequest
	err      error
}

func (f *fakeSubscribeAPI) SubscribePush(ctx context.Context, req models.PushSubscribeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeSubscribeAPI) calls() []models.PushSubscribeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PushSubscribeRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

func testVAPIDKey(t *testing.T) string {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes())
}

func TestRegisterForUser_DisabledDoesNothing(t *testing.T) {
	api := &fakeSubscribeAPI{}
	m := NewManager(false, testVAPIDKey(t), "http://localhost:8787", t.TempDir(), api)

	m.RegisterForUser(models.User{ID: "m1"})

	assert.Empty(t, api.calls())
	_, ok := m.Subscription()
	assert.False(t, ok)
}

func TestRegisterForUser_InvalidVAPIDKeySkips(t *testing.T) {
	api := &fakeSubscribeAPI{}
	m := NewManager(true, "not-a-key!!!", "http://localhost:8787", t.TempDir(), api)

	m.RegisterForUser(models.User{ID: "m1"})

	assert.Empty(t, api.calls())
}

func TestRegisterForUser_SubscribesWithGeneratedKeys(t *testing.T) {
	api := &fakeSubscribeAPI{}
	m := NewManager(true, testVAPIDKey(t), "http://localhost:8787", t.TempDir(), api)

	m.RegisterForUser(models.User{ID: "m1", Name: "Ada"})

	calls := api.calls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Equal(t, "m1", req.UserID)
	assert.Equal(t, "mentor", req.UserType)

	sub, ok := m.Subscription()
	require.True(t, ok)
	assert.Equal(t, "http://localhost:8787/push/"+sub.DeviceID, req.Subscription.Endpoint)

	p256dh, err := base64.RawURLEncoding.DecodeString(req.Subscription.Keys.P256dh)
	require.NoError(t, err)
	assert.Len(t, p256dh, publicKeyLength)
	auth, err := base64.RawURLEncoding.DecodeString(req.Subscription.Keys.Auth)
	require.NoError(t, err)
	assert.Len(t, auth, authSecretLen)
}

func TestRegisterForUser_ReusesPersistedSubscription(t *testing.T) {
	api := &fakeSubscribeAPI{}
	dataDir := t.TempDir()
	vapid := testVAPIDKey(t)

	m := NewManager(true, vapid, "http://localhost:8787", dataDir, api)
	m.RegisterForUser(models.User{ID: "m1"})
	first, ok := m.Subscription()
	require.True(t, ok)

	// New manager over the same data dir, as after an agent restart.
	m2 := NewManager(true, vapid, "http://localhost:8787", dataDir, api)
	m2.RegisterForUser(models.User{ID: "m1"})
	second, ok := m2.Subscription()
	require.True(t, ok)

	assert.Equal(t, first.DeviceID, second.DeviceID)
	assert.Equal(t, first.PrivateKey.Bytes(), second.PrivateKey.Bytes())

	calls := api.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].Subscription.Endpoint, calls[1].Subscription.Endpoint)
}

func TestRegisterForUser_UpstreamFailureIsSwallowed(t *testing.T) {
	api := &fakeSubscribeAPI{err: context.DeadlineExceeded}
	m := NewManager(true, testVAPIDKey(t), "http://localhost:8787", t.TempDir(), api)

	done := make(chan struct{})
	go func() {
		m.RegisterForUser(models.User{ID: "m1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("registration did not finish")
	}
	assert.Empty(t, api.calls())
}
