// Package services holds the orchestration layer between the local HTTP API
// and the session/queue/rating state containers.
package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/marsitschool/review-agent/internal/models"
	"github.com/marsitschool/review-agent/internal/schoolapi"
	"github.com/marsitschool/review-agent/internal/session"
	"github.com/marsitschool/review-agent/pkg/logger"
)

const (
	loginFailedMessage = "Login failed"
	serverErrorMessage = "Server connection error"
)

// LoginAPI is the slice of the school API the auth service needs.
type LoginAPI interface {
	Login(ctx context.Context, req schoolapi.LoginRequest) (*schoolapi.LoginResponse, error)
}

// PushRegistrar registers the mentor for push notifications after login.
// Registration is best effort and must never fail the login.
type PushRegistrar interface {
	RegisterForUser(user models.User)
}

// AuthService drives the login lifecycle against the session store.
type AuthService struct {
	sessions *session.Store
	api      LoginAPI
	push     PushRegistrar
}

// NewAuthService creates the auth service.
func NewAuthService(sessions *session.Store, api LoginAPI, push PushRegistrar) *AuthService {
	return &AuthService{sessions: sessions, api: api, push: push}
}

// Restore rehydrates the session from persisted credentials at startup.
func (s *AuthService) Restore() {
	s.sessions.LoadFromStorage()
}

// Login runs the full login lifecycle: pending, then fulfilled or rejected.
// On success the persisted credentials are written and push registration is
// kicked off in the background.
func (s *AuthService) Login(ctx context.Context, name, lastName, password string) (session.Session, error) {
	s.sessions.LoginPending()

	result, err := s.api.Login(ctx, schoolapi.LoginRequest{
		Name:     name,
		LastName: lastName,
		Password: password,
	})
	if err != nil {
		message := serverErrorMessage
		var apiErr *schoolapi.APIError
		if errors.As(err, &apiErr) {
			message = apiErr.Message
			if message == "" {
				message = loginFailedMessage
			}
		}
		logger.Warn("Login failed", zap.String("name", name), zap.Error(err))
		s.sessions.LoginRejected(message)
		return s.sessions.Snapshot(), err
	}

	s.sessions.LoginFulfilled(result.User, result.Token, result.RefreshToken)
	logger.Info("Mentor logged in", zap.String("user_id", result.User.ID))

	if s.push != nil {
		go s.push.RegisterForUser(result.User)
	}

	return s.sessions.Snapshot(), nil
}

// Logout clears the session and persisted credentials. Idempotent.
func (s *AuthService) Logout() {
	s.sessions.Logout()
}

// ClearError drops the last login error.
func (s *AuthService) ClearError() {
	s.sessions.ClearError()
}

// Session returns the current session snapshot.
func (s *AuthService) Session() session.Session {
	return s.sessions.Snapshot()
}
