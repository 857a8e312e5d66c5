package metrics

import (
	"sort"
	"sync"
	"time"

	"darms/internal/model"
)

// Store keeps the latest metrics of recent runs, evicting the least recently
// updated run beyond limit.
type Store struct {
	mu    sync.RWMutex
	byRun map[string]model.RunMetrics
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{
		byRun: make(map[string]model.RunMetrics),
		limit: limit,
	}
}

func (s *Store) Update(m model.RunMetrics) {
	if m.RunID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}
	s.byRun[m.RunID] = m
	if len(s.byRun) > s.limit {
		s.evictOldest()
	}
}

// GetAll returns every kept run, oldest first.
func (s *Store) GetAll() []model.RunMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.RunMetrics, 0, len(s.byRun))
	for _, m := range s.byRun {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].RunID < out[j].RunID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out
}

func (s *Store) evictOldest() {
	var oldestRun string
	var oldest time.Time
	for id, m := range s.byRun {
		if oldestRun == "" || m.UpdatedAt.Before(oldest) {
			oldestRun = id
			oldest = m.UpdatedAt
		}
	}
	if oldestRun != "" {
		delete(s.byRun, oldestRun)
	}
}
