// Package rating implements the per-item rating flow. Every pending review
// item gets its own flow; state never leaks between cards.
package rating

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/marsitschool/review-agent/internal/models"
	apperrors "github.com/marsitschool/review-agent/pkg/errors"
	"github.com/marsitschool/review-agent/pkg/logger"
	"github.com/marsitschool/review-agent/pkg/metrics"
)

const maxFeedbackRunes = 500

// API is the slice of the school API the flow needs.
type API interface {
	Rate(ctx context.Context, submission models.RatingSubmission) error
}

// State is a snapshot of one flow for the local API.
type State struct {
	InternID     string   `json:"internId"`
	LessonID     string   `json:"lessonId,omitempty"`
	Rating       int      `json:"rating"`
	Feedback     string   `json:"feedback"`
	ViolationIDs []string `json:"violationIds"`
	Submitting   bool     `json:"submitting"`
}

// Flow is the rating state for a single pending review item.
type Flow struct {
	mu         sync.Mutex
	internID   string
	lessonID   string
	rating     int
	feedback   string
	violations map[string]struct{}
	submitting bool

	api     API
	onRated func(internID, lessonID string)
}

func newFlow(internID, lessonID string, api API, onRated func(internID, lessonID string)) *Flow {
	return &Flow{
		internID:   internID,
		lessonID:   lessonID,
		violations: make(map[string]struct{}),
		api:        api,
		onRated:    onRated,
	}
}

// Snapshot returns the flow state.
func (f *Flow) Snapshot() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return State{
		InternID:     f.internID,
		LessonID:     f.lessonID,
		Rating:       f.rating,
		Feedback:     f.feedback,
		ViolationIDs: f.violationList(),
		Submitting:   f.submitting,
	}
}

// SetRating selects a star value between 1 and 5.
func (f *Flow) SetRating(stars int) error {
	if stars < 1 || stars > 5 {
		return apperrors.InvalidInputError("rating", "must be between 1 and 5")
	}
	f.mu.Lock()
	f.rating = stars
	f.mu.Unlock()
	return nil
}

// SetFeedback replaces the free-form feedback text. Longer than 500 runes is
// rejected; the caller's input widget is expected to stop there too.
func (f *Flow) SetFeedback(text string) error {
	if utf8.RuneCountInString(text) > maxFeedbackRunes {
		return apperrors.InvalidInputError("feedback", "longer than 500 characters")
	}
	f.mu.Lock()
	f.feedback = text
	f.mu.Unlock()
	return nil
}

// ToggleViolation flips membership of a rule in the violation set and
// reports whether the rule is now selected.
func (f *Flow) ToggleViolation(ruleID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, selected := f.violations[ruleID]; selected {
		delete(f.violations, ruleID)
		return false
	}
	f.violations[ruleID] = struct{}{}
	return true
}

// Submit sends the rating. Without a star selection it fails before touching
// the network. While a submission is in flight further submits are rejected.
// On failure every field keeps its value so the mentor can retry; on success
// the flow resets and the item is reported as rated.
func (f *Flow) Submit(ctx context.Context) error {
	f.mu.Lock()
	if f.rating == 0 {
		f.mu.Unlock()
		return apperrors.InvalidInputError("rating", "no star selection")
	}
	if f.submitting {
		f.mu.Unlock()
		return apperrors.ErrConflict
	}
	f.submitting = true

	submission := models.RatingSubmission{
		InternID:     f.internID,
		LessonID:     f.lessonID,
		Stars:        f.rating,
		Feedback:     strings.TrimSpace(f.feedback),
		ViolationIDs: f.violationList(),
	}
	f.mu.Unlock()

	err := f.api.Rate(ctx, submission)

	f.mu.Lock()
	f.submitting = false
	if err != nil {
		f.mu.Unlock()
		metrics.RatingSubmissions.WithLabelValues("failure").Inc()
		logger.Warn("Rating submission failed",
			zap.String("intern_id", f.internID), zap.Error(err))
		return err
	}
	f.rating = 0
	f.feedback = ""
	f.violations = make(map[string]struct{})
	f.mu.Unlock()

	metrics.RatingSubmissions.WithLabelValues("success").Inc()
	if f.onRated != nil {
		f.onRated(f.internID, f.lessonID)
	}
	return nil
}

// violationList returns the selected rule ids in a stable order. Callers must
// hold f.mu.
func (f *Flow) violationList() []string {
	ids := make([]string, 0, len(f.violations))
	for id := range f.violations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
