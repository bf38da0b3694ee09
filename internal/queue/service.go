// Package queue holds the pending-review list and the rule catalog.
package queue

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/marsitschool/review-agent/internal/models"
	"github.com/marsitschool/review-agent/internal/session"
	"github.com/marsitschool/review-agent/pkg/logger"
	"github.com/marsitschool/review-agent/pkg/metrics"
)

const (
	rulesCacheKey  = "rules"
	rulesCacheName = "rules"
)

// API is the slice of the school API the queue needs.
type API interface {
	PendingLessons(ctx context.Context) ([]models.PendingReviewItem, error)
	Rules(ctx context.Context) ([]models.Rule, error)
}

// View is a snapshot of the queue state for the local API.
type View struct {
	Items   []models.PendingReviewItem `json:"items"`
	Loading bool                       `json:"loading"`
	Error   string                     `json:"error,omitempty"`
}

// Service owns the pending list. The list only shrinks locally through
// Remove; everything else comes from the server, which is authoritative
// about what still needs rating.
type Service struct {
	mu        sync.RWMutex
	items     []models.PendingReviewItem
	loading   bool
	lastError string
	lastToken string

	api        API
	rulesCache *gocache.Cache
}

// NewService creates the queue service. rulesTTL bounds how long the rule
// catalog is reused before it is fetched again.
func NewService(api API, rulesTTL time.Duration) *Service {
	return &Service{
		api:        api,
		rulesCache: gocache.New(rulesTTL, 10*time.Minute),
	}
}

// Snapshot returns the current queue view.
func (s *Service) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]models.PendingReviewItem, len(s.items))
	copy(items, s.items)
	return View{Items: items, Loading: s.loading, Error: s.lastError}
}

// Refresh refetches the pending list. On failure the previous items stay in
// place and the error is recorded on the view.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	items, err := s.api.PendingLessons(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if err != nil {
		s.lastError = err.Error()
		logger.Warn("Failed to refresh pending queue", zap.Error(err))
		return err
	}

	s.items = items
	s.lastError = ""
	metrics.QueueItems.Set(float64(len(items)))
	logger.Info("Pending queue refreshed", zap.Int("items", len(items)))
	return nil
}

// Rules returns the rule catalog sorted by category precedence. The catalog
// is fetched at most once per TTL window.
func (s *Service) Rules(ctx context.Context) ([]models.Rule, error) {
	if cached, found := s.rulesCache.Get(rulesCacheKey); found {
		metrics.CacheHits.WithLabelValues(rulesCacheName).Inc()
		return cached.([]models.Rule), nil
	}
	metrics.CacheMisses.WithLabelValues(rulesCacheName).Inc()

	rules, err := s.api.Rules(ctx)
	if err != nil {
		return nil, err
	}

	models.SortRules(rules)
	s.rulesCache.Set(rulesCacheKey, rules, gocache.DefaultExpiration)
	logger.Info("Rule catalog fetched", zap.Int("rules", len(rules)))
	return rules, nil
}

// Remove drops the item identified by internID and lessonID from the local
// list. Unknown identifiers are a no-op.
func (s *Service) Remove(internID, lessonID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	for _, item := range s.items {
		if item.InternID == internID && item.LessonID == lessonID {
			continue
		}
		kept = append(kept, item)
	}
	s.items = kept
	metrics.QueueItems.Set(float64(len(s.items)))
}

// HandleSessionChange reacts to session transitions: a new access token
// triggers a refetch, a logout clears the list. Runs the refetch in the
// background since listeners must not block the session store.
func (s *Service) HandleSessionChange(snapshot session.Session) {
	s.mu.Lock()
	previous := s.lastToken
	s.lastToken = snapshot.AccessToken
	s.mu.Unlock()

	if snapshot.AccessToken == "" {
		s.clear()
		return
	}

	if snapshot.AccessToken != previous {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.Refresh(ctx); err != nil {
				logger.Warn("Queue refetch after token change failed", zap.Error(err))
			}
		}()
	}
}

func (s *Service) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.lastError = ""
	metrics.QueueItems.Set(0)
}
