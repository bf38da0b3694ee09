package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/marsitschool/review-agent/pkg/logger"
	"go.uber.org/zap"
)

// logTokenExpiry decodes the access token's exp claim without verifying the
// signature (verification is the server's job) and logs when a restored token
// is already stale. Purely diagnostic: the gateway still refreshes on 401.
func logTokenExpiry(token string) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}

	if remaining := time.Until(exp.Time); remaining <= 0 {
		logger.Warn("Restored access token is already expired; it will be refreshed on first use",
			zap.Time("expired_at", exp.Time))
	} else {
		logger.Debug("Restored access token", zap.Duration("expires_in", remaining))
	}
}
