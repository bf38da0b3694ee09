// Package handlers exposes the agent's local HTTP API. Handlers stay thin;
// all behavior lives in the services and state containers they call into.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marsitschool/review-agent/internal/schoolapi"
	"github.com/marsitschool/review-agent/internal/services"
	"github.com/marsitschool/review-agent/internal/session"
	apperrors "github.com/marsitschool/review-agent/pkg/errors"
)

type AuthHandler struct {
	auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type loginRequest struct {
	Name     string `json:"name" binding:"required"`
	LastName string `json:"lastName"`
	Password string `json:"password" binding:"required"`
}

// Login runs the login lifecycle and returns the resulting session view.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "name and password are required", err)
		return
	}

	snapshot, err := h.auth.Login(c.Request.Context(), req.Name, req.LastName, req.Password)
	if err != nil {
		attachError(c, err)
		c.JSON(loginErrorStatus(err), gin.H{
			"error":   snapshot.Error,
			"session": sessionView(snapshot),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": sessionView(snapshot)})
}

// Session returns the current session view.
func (h *AuthHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"session": sessionView(h.auth.Session())})
}

// Logout clears the session. Always succeeds.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.auth.Logout()
	c.Status(http.StatusNoContent)
}

// ClearError drops the last login error.
func (h *AuthHandler) ClearError(c *gin.Context) {
	h.auth.ClearError()
	c.Status(http.StatusNoContent)
}

// sessionView strips the session down to what the UI may see. Tokens never
// leave the agent.
func sessionView(s session.Session) gin.H {
	view := gin.H{
		"isAuthenticated": s.IsAuthenticated,
		"loading":         s.Loading,
	}
	if s.User != nil {
		view["user"] = s.User
	}
	if s.Error != "" {
		view["error"] = s.Error
	}
	return view
}

func loginErrorStatus(err error) int {
	var apiErr *schoolapi.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			return apiErr.Status
		}
		return http.StatusBadGateway
	}
	if apperrors.Is(err, apperrors.ErrInvalidInput) {
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}
