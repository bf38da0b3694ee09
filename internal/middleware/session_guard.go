package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marsitschool/review-agent/internal/session"
)

// SessionGuard rejects requests to protected local routes while no mentor is
// logged in. The decision depends only on the current session; the guard
// never triggers network calls or token refreshes. The redirect hint tells
// the UI where to send the user.
func SessionGuard(sessions *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !sessions.Snapshot().IsAuthenticated {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":    "Unauthorized",
				"redirect": "/login",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
