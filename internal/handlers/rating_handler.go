package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marsitschool/review-agent/internal/rating"
	apperrors "github.com/marsitschool/review-agent/pkg/errors"
)

type RatingHandler struct {
	flows *rating.Registry
}

func NewRatingHandler(flows *rating.Registry) *RatingHandler {
	return &RatingHandler{flows: flows}
}

type ratingRequest struct {
	LessonID   string   `json:"lessonId"`
	Stars      int      `json:"stars"`
	Feedback   string   `json:"feedback"`
	Violations []string `json:"violations"`
}

// Submit applies the request to the item's rating flow and submits it. A
// failed submission leaves the flow intact, so the same request can simply
// be retried.
func (h *RatingHandler) Submit(c *gin.Context) {
	internID := c.Param("internId")

	var req ratingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid rating payload", err)
		return
	}

	flow := h.flows.Get(internID, req.LessonID)

	if req.Stars != 0 {
		if err := flow.SetRating(req.Stars); err != nil {
			respondError(c, http.StatusBadRequest, "rating must be between 1 and 5", err)
			return
		}
	}
	if err := flow.SetFeedback(req.Feedback); err != nil {
		respondError(c, http.StatusBadRequest, "feedback is longer than 500 characters", err)
		return
	}
	reconcileViolations(flow, req.Violations)

	if err := flow.Submit(c.Request.Context()); err != nil {
		attachError(c, err)
		switch {
		case apperrors.Is(err, apperrors.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "select a star rating first"})
		case apperrors.Is(err, apperrors.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "submission already in progress"})
		case apperrors.Is(err, apperrors.ErrUnauthorized):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "redirect": "/login"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "rating submission failed", "flow": flow.Snapshot()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rated"})
}

// reconcileViolations toggles the flow's violation set into the requested
// shape.
func reconcileViolations(flow *rating.Flow, want []string) {
	wanted := make(map[string]struct{}, len(want))
	for _, id := range want {
		wanted[id] = struct{}{}
	}

	for _, id := range flow.Snapshot().ViolationIDs {
		if _, keep := wanted[id]; !keep {
			flow.ToggleViolation(id)
		}
		delete(wanted, id)
	}
	for id := range wanted {
		flow.ToggleViolation(id)
	}
}
