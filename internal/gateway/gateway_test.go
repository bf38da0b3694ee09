package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marsitschool/review-agent/internal/storage"
	"github.com/marsitschool/review-agent/pkg/httpclient"
)

type fakeSession struct {
	access    string
	refresh   string
	updates   []string
	loggedOut bool
}

func (f *fakeSession) AccessToken() string  { return f.access }
func (f *fakeSession) RefreshToken() string { return f.refresh }
func (f *fakeSession) UpdateAccessToken(newToken string) {
	f.access = newToken
	f.updates = append(f.updates, newToken)
}
func (f *fakeSession) Logout() { f.loggedOut = true }

func newTestStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	return store
}

func TestSend_AttachesBearerAndPassesThrough(t *testing.T) {
	var gotAuth, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	session := &fakeSession{access: "T1", refresh: "R1"}
	g := New(server.URL, httpclient.NewStandardClient(), session, newTestStore(t))

	resp, err := g.Send(context.Background(), "pendingLessons", http.MethodGet, "/api/lessons/pending", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer T1", gotAuth)
	assert.Equal(t, "application/json", gotContentType)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestSend_RefreshesOnceAndRetriesOn401(t *testing.T) {
	var resourceTokens []string
	var refreshCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/api/lessons/pending", func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		resourceTokens = append(resourceTokens, token)
		if token != "Bearer T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":[]}`))
	})
	mux.HandleFunc("/api/mentors/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "R1", req["refreshToken"])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token":"T2"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := &fakeSession{access: "T1", refresh: "R1"}
	creds := newTestStore(t)
	g := New(server.URL, httpclient.NewStandardClient(), session, creds)

	resp, err := g.Send(context.Background(), "pendingLessons", http.MethodGet, "/api/lessons/pending", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, refreshCalls)
	assert.Equal(t, []string{"Bearer T1", "Bearer T2"}, resourceTokens)
	assert.Equal(t, []string{"T2"}, session.updates)
	assert.False(t, session.loggedOut)

	persisted, ok := creds.Get(storage.KeyAccessToken)
	require.True(t, ok)
	assert.Equal(t, "T2", persisted)
}

func TestSend_RetriesWithRequestBody(t *testing.T) {
	var bodies []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/interns/u1/rate", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(raw))
		if r.Header.Get("Authorization") != "Bearer T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/mentors/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"T2"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := &fakeSession{access: "T1", refresh: "R1"}
	g := New(server.URL, httpclient.NewStandardClient(), session, newTestStore(t))

	payload := `{"stars":5}`
	resp, err := g.Send(context.Background(), "rateIntern", http.MethodPost, "/api/interns/u1/rate", []byte(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, bodies, 2)
	assert.Equal(t, payload, bodies[0])
	assert.Equal(t, payload, bodies[1])
}

func TestSend_FailedRefreshForcesLogoutAndReturnsOriginal401(t *testing.T) {
	var resourceCalls, refreshCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/lessons/pending", func(w http.ResponseWriter, r *http.Request) {
		resourceCalls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid token"}`))
	})
	mux.HandleFunc("/api/mentors/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		w.WriteHeader(http.StatusForbidden)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := &fakeSession{access: "T1", refresh: "R1"}
	g := New(server.URL, httpclient.NewStandardClient(), session, newTestStore(t))

	resp, err := g.Send(context.Background(), "pendingLessons", http.MethodGet, "/api/lessons/pending", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, resourceCalls)
	assert.Equal(t, 1, refreshCalls)
	assert.True(t, session.loggedOut)
	assert.Empty(t, session.updates)

	// The original response body must still be readable by the caller.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Invalid token"}`, string(body))
}

func TestSend_Second401IsReturnedWithoutAnotherRefresh(t *testing.T) {
	var refreshCalls, resourceCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/lessons/pending", func(w http.ResponseWriter, r *http.Request) {
		resourceCalls++
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/mentors/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
		w.Write([]byte(`{"token":"T2"}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := &fakeSession{access: "T1", refresh: "R1"}
	g := New(server.URL, httpclient.NewStandardClient(), session, newTestStore(t))

	resp, err := g.Send(context.Background(), "pendingLessons", http.MethodGet, "/api/lessons/pending", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 2, resourceCalls)
	assert.Equal(t, 1, refreshCalls)
	assert.False(t, session.loggedOut)
}

func TestSend_NoRefreshTokenMeansNoRefreshAttempt(t *testing.T) {
	var refreshCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/lessons/pending", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/mentors/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls++
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := &fakeSession{access: "T1", refresh: ""}
	g := New(server.URL, httpclient.NewStandardClient(), session, newTestStore(t))

	resp, err := g.Send(context.Background(), "pendingLessons", http.MethodGet, "/api/lessons/pending", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, refreshCalls)
	assert.False(t, session.loggedOut)
}

func TestSend_EmptyTokenInRefreshResponseIsFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/lessons/pending", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/mentors/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	session := &fakeSession{access: "T1", refresh: "R1"}
	g := New(server.URL, httpclient.NewStandardClient(), session, newTestStore(t))

	resp, err := g.Send(context.Background(), "pendingLessons", http.MethodGet, "/api/lessons/pending", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.True(t, session.loggedOut)
}
