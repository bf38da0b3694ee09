package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marsitschool/review-agent/internal/models"
	"github.com/marsitschool/review-agent/internal/session"
)

type fakeAPI struct {
	items      []models.PendingReviewItem
	itemsErr   error
	rules      []models.Rule
	rulesCalls atomic.Int32
	itemsCalls atomic.Int32
}

func (f *fakeAPI) PendingLessons(ctx context.Context) ([]models.PendingReviewItem, error) {
	f.itemsCalls.Add(1)
	if f.itemsErr != nil {
		return nil, f.itemsErr
	}
	return f.items, nil
}

func (f *fakeAPI) Rules(ctx context.Context) ([]models.Rule, error) {
	f.rulesCalls.Add(1)
	return f.rules, nil
}

func item(internID, lessonID string) models.PendingReviewItem {
	return models.PendingReviewItem{InternID: internID, LessonID: lessonID}
}

func TestRefresh_ReplacesItems(t *testing.T) {
	api := &fakeAPI{items: []models.PendingReviewItem{item("i1", "l1"), item("i2", "l2")}}
	svc := NewService(api, time.Hour)

	require.NoError(t, svc.Refresh(context.Background()))

	view := svc.Snapshot()
	assert.Len(t, view.Items, 2)
	assert.False(t, view.Loading)
	assert.Empty(t, view.Error)
}

func TestRefresh_FailurePreservesPreviousItems(t *testing.T) {
	api := &fakeAPI{items: []models.PendingReviewItem{item("i1", "l1")}}
	svc := NewService(api, time.Hour)
	require.NoError(t, svc.Refresh(context.Background()))

	api.itemsErr = errors.New("upstream unavailable")
	require.Error(t, svc.Refresh(context.Background()))

	view := svc.Snapshot()
	assert.Len(t, view.Items, 1)
	assert.NotEmpty(t, view.Error)
	assert.False(t, view.Loading)
}

func TestRules_FetchedOncePerTTLAndSorted(t *testing.T) {
	api := &fakeAPI{rules: []models.Rule{
		{ID: "r1", Category: models.RuleCategoryBlack},
		{ID: "r2", Category: models.RuleCategoryGreen},
		{ID: "r3", Category: models.RuleCategoryRed},
	}}
	svc := NewService(api, time.Hour)

	rules, err := svc.Rules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "r2", rules[0].ID)
	assert.Equal(t, "r3", rules[1].ID)
	assert.Equal(t, "r1", rules[2].ID)

	_, err = svc.Rules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), api.rulesCalls.Load())
}

func TestRemove_DropsOnlyTheIdentifiedItem(t *testing.T) {
	api := &fakeAPI{items: []models.PendingReviewItem{
		item("i1", "l1"), item("i1", "l2"), item("i2", "l1"),
	}}
	svc := NewService(api, time.Hour)
	require.NoError(t, svc.Refresh(context.Background()))

	svc.Remove("i1", "l2")

	view := svc.Snapshot()
	require.Len(t, view.Items, 2)
	assert.Equal(t, "l1", view.Items[0].LessonID)
	assert.Equal(t, "i2", view.Items[1].InternID)

	// Unknown pair is a no-op.
	svc.Remove("i9", "l9")
	assert.Len(t, svc.Snapshot().Items, 2)
}

func TestHandleSessionChange_RefetchesOnNewToken(t *testing.T) {
	api := &fakeAPI{items: []models.PendingReviewItem{item("i1", "l1")}}
	svc := NewService(api, time.Hour)

	svc.HandleSessionChange(session.Session{IsAuthenticated: true, AccessToken: "T1"})

	require.Eventually(t, func() bool {
		return api.itemsCalls.Load() == 1
	}, time.Second, 10*time.Millisecond)

	// Same token again: no refetch.
	svc.HandleSessionChange(session.Session{IsAuthenticated: true, AccessToken: "T1"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), api.itemsCalls.Load())

	// Refreshed token: refetch.
	svc.HandleSessionChange(session.Session{IsAuthenticated: true, AccessToken: "T2"})
	require.Eventually(t, func() bool {
		return api.itemsCalls.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHandleSessionChange_LogoutClearsItems(t *testing.T) {
	api := &fakeAPI{items: []models.PendingReviewItem{item("i1", "l1")}}
	svc := NewService(api, time.Hour)
	require.NoError(t, svc.Refresh(context.Background()))

	svc.HandleSessionChange(session.Session{})

	assert.Empty(t, svc.Snapshot().Items)
}
