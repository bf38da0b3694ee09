package schoolapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marsitschool/review-agent/internal/models"
	apperrors "github.com/marsitschool/review-agent/pkg/errors"
	"github.com/marsitschool/review-agent/pkg/httpclient"
)

type staticIdentity string

func (s staticIdentity) CurrentUserID() string { return string(s) }

// plainSender routes gateway calls straight at a test server without any
// token handling, which these tests do not exercise.
type plainSender struct {
	base string
	http httpclient.Client
}

func (p *plainSender) Send(ctx context.Context, operation, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.http.Do(req)
}

func newClient(serverURL string, identity Identity) *Client {
	plain := httpclient.NewStandardClient()
	return NewClient(serverURL, plain, &plainSender{base: serverURL, http: plain}, identity)
}

func TestLogin_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/mentors/login", r.URL.Path)

		var req LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Ada", req.Name)
		assert.Equal(t, "Lovelace", req.LastName)

		json.NewEncoder(w).Encode(LoginResponse{
			User:         models.User{ID: "m1", Name: "Ada", Role: "mentor"},
			Token:        "T1",
			RefreshToken: "R1",
		})
	}))
	defer server.Close()

	c := newClient(server.URL, staticIdentity(""))
	result, err := c.Login(context.Background(), LoginRequest{
		Name:     "  Ada  ",
		LastName: " Lovelace ",
		Password: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", result.User.ID)
	assert.Equal(t, "T1", result.Token)
	assert.Equal(t, "R1", result.RefreshToken)
}

func TestLogin_OmitsEmptyLastName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, present := raw["lastName"]
		assert.False(t, present)

		json.NewEncoder(w).Encode(LoginResponse{
			User: models.User{ID: "m1"}, Token: "T1", RefreshToken: "R1",
		})
	}))
	defer server.Close()

	c := newClient(server.URL, staticIdentity(""))
	_, err := c.Login(context.Background(), LoginRequest{Name: "Ada", LastName: "   ", Password: "secret"})
	require.NoError(t, err)
}

func TestLogin_ServerMessageSurfacesAsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Wrong password"}`))
	}))
	defer server.Close()

	c := newClient(server.URL, staticIdentity(""))
	_, err := c.Login(context.Background(), LoginRequest{Name: "Ada", Password: "bad"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Wrong password", apiErr.Message)
}

func TestLogin_MissingFieldsRejectedWithoutNetwork(t *testing.T) {
	c := newClient("http://127.0.0.1:1", staticIdentity(""))
	_, err := c.Login(context.Background(), LoginRequest{Name: "", Password: ""})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))
}

func TestPendingLessons_DecodesList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/lessons/pending", r.URL.Path)
		w.Write([]byte(`[{"internId":"i1","lessonId":"l1","name":"Sam"}]`))
	}))
	defer server.Close()

	c := newClient(server.URL, staticIdentity("m1"))
	items, err := c.PendingLessons(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "i1", items[0].InternID)
	assert.Equal(t, "l1", items[0].LessonID)
}

func TestRules_DecodesDataEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/rules", r.URL.Path)
		w.Write([]byte(`{"data":[{"id":"r1","category":"red","title":"Late"}]}`))
	}))
	defer server.Close()

	c := newClient(server.URL, staticIdentity("m1"))
	rules, err := c.Rules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, models.RuleCategoryRed, rules[0].Category)
}

func TestRate_AttachesMentorIDAndEmptyViolations(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/interns/i1/rate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newClient(server.URL, staticIdentity("m1"))
	err := c.Rate(context.Background(), models.RatingSubmission{
		InternID: "i1",
		LessonID: "l1",
		Stars:    4,
	})
	require.NoError(t, err)

	assert.Equal(t, "m1", got["mentorId"])
	assert.Equal(t, "l1", got["lessonId"])
	assert.Equal(t, float64(4), got["stars"])
	assert.Equal(t, []any{}, got["violations"])
	_, feedbackPresent := got["feedback"]
	assert.False(t, feedbackPresent)
}

func TestRate_StarsOutOfRangeRejectedWithoutNetwork(t *testing.T) {
	c := newClient("http://127.0.0.1:1", staticIdentity("m1"))

	err := c.Rate(context.Background(), models.RatingSubmission{InternID: "i1", Stars: 0})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))

	err = c.Rate(context.Background(), models.RatingSubmission{InternID: "i1", Stars: 6})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))
}

func TestRate_NoSessionIsUnauthorized(t *testing.T) {
	c := newClient("http://127.0.0.1:1", staticIdentity(""))
	err := c.Rate(context.Background(), models.RatingSubmission{InternID: "i1", Stars: 3})
	assert.True(t, apperrors.Is(err, apperrors.ErrUnauthorized))
}

func TestSubscribePush_SendsSubscriptionEnvelope(t *testing.T) {
	var got models.PushSubscribeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/notifications/subscribe", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := newClient(server.URL, staticIdentity("m1"))
	err := c.SubscribePush(context.Background(), models.PushSubscribeRequest{
		Subscription: models.PushSubscription{
			Endpoint: "http://localhost:8787/push/d1",
			Keys:     models.PushSubscriptionKeys{P256dh: "pk", Auth: "as"},
		},
		UserID:   "m1",
		UserType: "mentor",
	})
	require.NoError(t, err)
	assert.Equal(t, "mentor", got.UserType)
	assert.Equal(t, "http://localhost:8787/push/d1", got.Subscription.Endpoint)
}
