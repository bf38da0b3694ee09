// Package gateway issues requests to the school API on behalf of the session.
// It is a transparent wrapper: it attaches the bearer token, recovers from an
// expired access token with a single refresh-and-retry cycle, and otherwise
// hands responses back unchanged.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/marsitschool/review-agent/internal/storage"
	"github.com/marsitschool/review-agent/pkg/httpclient"
	"github.com/marsitschool/review-agent/pkg/logger"
	"github.com/marsitschool/review-agent/pkg/metrics"
	"github.com/marsitschool/review-agent/pkg/tracing"
)

// SessionState is the slice of the session store the gateway needs: current
// tokens, the silent token update, and the forced logout escalation.
type SessionState interface {
	AccessToken() string
	RefreshToken() string
	UpdateAccessToken(newToken string)
	Logout()
}

// Gateway sends authenticated requests to the school API.
type Gateway struct {
	baseURL string
	http    httpclient.Client
	session SessionState
	creds   storage.Store
}

// New creates a gateway for the school API at baseURL.
func New(baseURL string, client httpclient.Client, session SessionState, creds storage.Store) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		http:    client,
		session: session,
		creds:   creds,
	}
}

// Send issues an authenticated JSON request and returns the final response
// unchanged; the gateway never reads the response body. On a 401 it performs
// at most one refresh-token exchange and at most one retry. If the exchange
// fails the session is force-logged-out and the original 401 is returned. A
// 401 on the retried request is returned as-is, never re-processed.
func (g *Gateway) Send(ctx context.Context, operation, method, path string, body []byte) (*http.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "gateway.send",
		attribute.String("http.request.method", method),
		attribute.String("url.path", path),
	)
	defer span.End()

	start := time.Now()

	resp, err := g.do(ctx, method, path, body, g.session.AccessToken())
	if err != nil {
		g.record(operation, start, 0, err)
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if refreshToken := g.session.RefreshToken(); refreshToken != "" {
			newToken, refreshErr := g.refresh(ctx, refreshToken)
			if refreshErr != nil {
				// Refresh is broken beyond recovery for this session: escalate
				// to a forced logout and hand the caller the original 401.
				metrics.TokenRefreshTotal.WithLabelValues("failure").Inc()
				logger.Warn("Token refresh failed, forcing logout",
					zap.String("operation", operation),
					zap.Error(refreshErr))
				g.session.Logout()
				g.record(operation, start, resp.StatusCode, nil)
				return resp, nil
			}

			metrics.TokenRefreshTotal.WithLabelValues("success").Inc()

			if err := g.creds.Set(storage.KeyAccessToken, newToken); err != nil {
				logger.Error("Failed to persist refreshed access token", zap.Error(err))
			}
			g.session.UpdateAccessToken(newToken)

			retried, retryErr := g.do(ctx, method, path, body, newToken)
			if retryErr != nil {
				resp.Body.Close()
				g.record(operation, start, 0, retryErr)
				return nil, retryErr
			}
			resp.Body.Close()
			resp = retried
		}
	}

	g.record(operation, start, resp.StatusCode, nil)
	return resp, nil
}

// do builds and issues a single request carrying token as bearer credential.
func (g *Gateway) do(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	return g.http.Do(req)
}

// refresh exchanges the refresh token for a new access token. Any non-2xx
// response or a response without a token is a failure.
func (g *Gateway) refresh(ctx context.Context, refreshToken string) (string, error) {
	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/api/mentors/refresh-token", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("refresh endpoint returned status %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if result.Token == "" {
		return "", fmt.Errorf("refresh response carried no token")
	}

	return result.Token, nil
}

func (g *Gateway) record(operation string, start time.Time, status int, err error) {
	duration := metrics.MeasureDuration(start)

	if err != nil {
		metrics.UpstreamRequestDuration.WithLabelValues(operation, "error").Observe(duration)
		metrics.UpstreamRequestTotal.WithLabelValues(operation, "error").Inc()
		logger.LogAPICall(operation, "error", duration, zap.Error(err))
		return
	}

	result := "success"
	if status >= 400 {
		result = "error"
	}
	metrics.UpstreamRequestDuration.WithLabelValues(operation, result).Observe(duration)
	metrics.UpstreamRequestTotal.WithLabelValues(operation, result).Inc()
	logger.LogAPICall(operation, result, duration, zap.String("status", strconv.Itoa(status)))
}
