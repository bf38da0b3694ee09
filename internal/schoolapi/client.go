// Package schoolapi is the typed client for the school REST API. Authenticated
// calls go through the gateway; login, refresh and push subscribe are plain
// requests, since they carry their own credentials (or none).
package schoolapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/marsitschool/review-agent/internal/models"
	apperrors "github.com/marsitschool/review-agent/pkg/errors"
	"github.com/marsitschool/review-agent/pkg/httpclient"
	"github.com/marsitschool/review-agent/pkg/logger"
)

// Identity exposes the logged-in mentor's id for calls that must carry it.
type Identity interface {
	CurrentUserID() string
}

// Sender is the authenticated transport (the gateway).
type Sender interface {
	Send(ctx context.Context, operation, method, path string, body []byte) (*http.Response, error)
}

// APIError is a non-2xx answer from the school API, with the server's own
// message when it sent one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("school api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("school api: status %d", e.Status)
}

// LoginRequest carries the mentor's credentials. LastName is optional and
// trimmed before sending.
type LoginRequest struct {
	Name     string `json:"name" validate:"required"`
	LastName string `json:"lastName,omitempty"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is a successful authentication result.
type LoginResponse struct {
	User         models.User `json:"user"`
	Token        string      `json:"token"`
	RefreshToken string      `json:"refreshToken"`
}

// Client talks to the school API.
type Client struct {
	baseURL  string
	plain    httpclient.Client
	gateway  Sender
	identity Identity
	validate *validator.Validate
}

// NewClient creates a school API client. plain is used for unauthenticated
// calls, gateway for everything behind the bearer token.
func NewClient(baseURL string, plain httpclient.Client, gateway Sender, identity Identity) *Client {
	return &Client{
		baseURL:  baseURL,
		plain:    plain,
		gateway:  gateway,
		identity: identity,
		validate: validator.New(),
	}
}

// Login authenticates the mentor. A non-2xx answer comes back as *APIError so
// the caller can surface the server's message verbatim.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.LastName = strings.TrimSpace(req.LastName)

	if err := c.validate.Struct(req); err != nil {
		return nil, apperrors.InvalidInputError("login", err.Error())
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode login request: %w", err)
	}

	resp, err := c.postPlain(ctx, "/api/mentors/login", payload)
	if err != nil {
		return nil, apperrors.UnavailableError("login request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}

	var result LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	if result.Token == "" || result.RefreshToken == "" {
		return nil, fmt.Errorf("login response missing tokens")
	}

	return &result, nil
}

// PendingLessons fetches the items awaiting a rating from the current mentor.
// The server already filters out everything this mentor has rated.
func (c *Client) PendingLessons(ctx context.Context) ([]models.PendingReviewItem, error) {
	resp, err := c.gateway.Send(ctx, "pendingLessons", http.MethodGet, "/api/lessons/pending", nil)
	if err != nil {
		return nil, apperrors.UnavailableError("pending lessons request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, apperrors.UnauthorizedError("pending lessons")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}

	var items []models.PendingReviewItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to decode pending lessons: %w", err)
	}

	return items, nil
}

// Rules fetches the conduct rule catalog.
func (c *Client) Rules(ctx context.Context) ([]models.Rule, error) {
	resp, err := c.gateway.Send(ctx, "rules", http.MethodGet, "/api/rules", nil)
	if err != nil {
		return nil, apperrors.UnavailableError("rules request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, apperrors.UnauthorizedError("rules")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}

	var result struct {
		Data []models.Rule `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}

	return result.Data, nil
}

// Rate submits a rating for one intern. The mentor id is attached from the
// current session.
func (c *Client) Rate(ctx context.Context, submission models.RatingSubmission) error {
	if err := c.validate.Struct(submission); err != nil {
		return apperrors.InvalidInputError("rating", err.Error())
	}

	mentorID := c.identity.CurrentUserID()
	if mentorID == "" {
		return apperrors.UnauthorizedError("rating without a session")
	}

	body := struct {
		Stars      int      `json:"stars"`
		Feedback   string   `json:"feedback,omitempty"`
		Violations []string `json:"violations"`
		MentorID   string   `json:"mentorId"`
		LessonID   string   `json:"lessonId,omitempty"`
	}{
		Stars:      submission.Stars,
		Feedback:   submission.Feedback,
		Violations: submission.ViolationIDs,
		MentorID:   mentorID,
		LessonID:   submission.LessonID,
	}
	if body.Violations == nil {
		body.Violations = []string{}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode rating: %w", err)
	}

	path := "/api/interns/" + submission.InternID + "/rate"
	resp, err := c.gateway.Send(ctx, "rateIntern", http.MethodPost, path, payload)
	if err != nil {
		return apperrors.UnavailableError("rating request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return apperrors.UnauthorizedError("rating")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	logger.Info("Rating submitted",
		zap.String("intern_id", submission.InternID),
		zap.Int("stars", submission.Stars))
	return nil
}

// SubscribePush registers a push subscription for the mentor. Unauthenticated
// on the wire; the payload itself names the user.
func (c *Client) SubscribePush(ctx context.Context, req models.PushSubscribeRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode subscribe request: %w", err)
	}

	resp, err := c.postPlain(ctx, "/api/notifications/subscribe", payload)
	if err != nil {
		return apperrors.UnavailableError("subscribe request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	return nil
}

func (c *Client) postPlain(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.plain.Do(req)
}

// decodeAPIError reads the server's error message when the body carries one.
func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		if body.Message != "" {
			apiErr.Message = body.Message
		} else {
			apiErr.Message = body.Error
		}
	}

	return apiErr
}
