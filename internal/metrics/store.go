package metrics

import (
	"sort"
	"sync"
	"time"

	"oeetrack/internal/model"
)

// Store keeps the latest KPI summary per month key. The least recently
// updated month is evicted once the limit is exceeded.
type Store struct {
	mu        sync.RWMutex
	byMonth   map[string]model.KPISummary
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 120
	}
	return &Store{
		byMonth:   make(map[string]model.KPISummary),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(summary model.KPISummary) {
	if s == nil || summary.Key == "" {
		return
	}
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMonth[summary.Key] = summary
	s.updatedAt[summary.Key] = summary.UpdatedAt
	if len(s.byMonth) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(key string) (model.KPISummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary, ok := s.byMonth[key]
	return summary, ok
}

// Latest returns the most recently updated summary.
func (s *Store) Latest() (model.KPISummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest model.KPISummary
	found := false
	for key, ts := range s.updatedAt {
		if !found || ts.After(latest.UpdatedAt) {
			latest = s.byMonth[key]
			found = true
		}
	}
	return latest, found
}

// GetAll lists summaries in calendar order.
func (s *Store) GetAll() []model.KPISummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.KPISummary, 0, len(s.byMonth))
	for _, summary := range s.byMonth {
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out
}

func (s *Store) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, ts := range s.updatedAt {
		if oldestKey == "" || ts.Before(oldest) {
			oldestKey = key
			oldest = ts
		}
	}
	if oldestKey != "" {
		delete(s.byMonth, oldestKey)
		delete(s.updatedAt, oldestKey)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMonth = make(map[string]model.KPISummary)
	s.updatedAt = make(map[string]time.Time)
}
