// Package session holds the mentor's authentication session in a single
// state container. All mutation goes through the named transitions below;
// nothing else in the agent touches session state directly.
package session

import (
	"encoding/json"
	"sync"

	"github.com/marsitschool/review-agent/internal/models"
	"github.com/marsitschool/review-agent/internal/storage"
	"github.com/marsitschool/review-agent/pkg/logger"
	"go.uber.org/zap"
)

// Session is a snapshot of the current authentication state.
// IsAuthenticated is true iff User, AccessToken and RefreshToken are all set.
type Session struct {
	IsAuthenticated bool
	User            *models.User
	AccessToken     string
	RefreshToken    string
	Loading         bool
	Error           string
}

// Listener observes session changes. Listeners run outside the store lock and
// must not call back into mutating transitions synchronously.
type Listener func(Session)

// Store owns the session and the persisted credential triple behind it.
type Store struct {
	mu        sync.RWMutex
	current   Session
	creds     storage.Store
	listeners []Listener
}

// New creates an empty, unauthenticated store backed by creds.
func New(creds storage.Store) *Store {
	return &Store{creds: creds}
}

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// AccessToken returns the current access token ("" when logged out).
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.AccessToken
}

// RefreshToken returns the current refresh token ("" when logged out).
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.RefreshToken
}

// CurrentUserID returns the logged-in mentor's id, or "" when logged out.
func (s *Store) CurrentUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current.User == nil {
		return ""
	}
	return s.current.User.ID
}

// OnChange registers a listener invoked after every transition that changes
// authentication state or tokens (restore, login, logout, token refresh).
func (s *Store) OnChange(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// LoadFromStorage restores the session from the persisted credential triple.
// All three values must be present and the user must parse; a corrupt user
// record clears the token and user keys. A partial triple leaves both the
// session and storage untouched.
func (s *Store) LoadFromStorage() {
	token, haveToken := s.creds.Get(storage.KeyAccessToken)
	refreshToken, haveRefresh := s.creds.Get(storage.KeyRefreshToken)
	userRaw, haveUser := s.creds.Get(storage.KeyUser)

	if !haveToken || !haveRefresh || !haveUser {
		return
	}

	var user models.User
	if err := json.Unmarshal([]byte(userRaw), &user); err != nil {
		logger.Warn("Stored user record is corrupt, clearing credentials", zap.Error(err))
		s.deleteCred(storage.KeyAccessToken)
		s.deleteCred(storage.KeyUser)
		return
	}

	s.mu.Lock()
	s.current = Session{
		IsAuthenticated: true,
		User:            &user,
		AccessToken:     token,
		RefreshToken:    refreshToken,
	}
	s.mu.Unlock()

	logTokenExpiry(token)
	logger.Info("Session restored from storage", zap.String("user_id", user.ID))
	s.notify()
}

// LoginPending marks a login attempt as in flight.
func (s *Store) LoginPending() {
	s.mu.Lock()
	s.current.Loading = true
	s.current.Error = ""
	s.mu.Unlock()
}

// LoginFulfilled installs the authenticated session and persists the
// credential triple.
func (s *Store) LoginFulfilled(user models.User, accessToken, refreshToken string) {
	s.mu.Lock()
	s.current = Session{
		IsAuthenticated: true,
		User:            &user,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
	}
	s.mu.Unlock()

	s.setCred(storage.KeyAccessToken, accessToken)
	s.setCred(storage.KeyRefreshToken, refreshToken)
	if userRaw, err := json.Marshal(user); err == nil {
		s.setCred(storage.KeyUser, string(userRaw))
	} else {
		logger.Error("Failed to encode user for storage", zap.Error(err))
	}

	s.notify()
}

// LoginRejected records a failed login attempt. Persisted storage is left
// untouched.
func (s *Store) LoginRejected(message string) {
	s.mu.Lock()
	s.current.Loading = false
	s.current.Error = message
	s.mu.Unlock()
}

// Logout resets the session to its initial state and clears all persisted
// credential keys. Idempotent.
func (s *Store) Logout() {
	s.mu.Lock()
	s.current = Session{}
	s.mu.Unlock()

	s.deleteCred(storage.KeyAccessToken)
	s.deleteCred(storage.KeyRefreshToken)
	s.deleteCred(storage.KeyUser)

	s.notify()
}

// UpdateAccessToken replaces only the in-memory access token after a silent
// refresh. Persistence of the refreshed token is the gateway's job; the
// authenticated flag is not touched.
func (s *Store) UpdateAccessToken(newToken string) {
	s.mu.Lock()
	s.current.AccessToken = newToken
	s.mu.Unlock()

	s.notify()
}

// ClearError clears the login error without other side effects.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.current.Error = ""
	s.mu.Unlock()
}

func (s *Store) setCred(key, value string) {
	if err := s.creds.Set(key, value); err != nil {
		logger.Error("Failed to persist credential", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) deleteCred(key string) {
	if err := s.creds.Delete(key); err != nil {
		logger.Error("Failed to clear credential", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	snapshot := s.current
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
