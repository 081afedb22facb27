package state

import (
	"sync"
	"time"
)

// RecentRun summarizes one completed plan computation.
type RecentRun struct {
	PlanID    string
	KitchenID string
	MealTime  time.Time
	Status    string
	Entries   int
	Conflicts int
	Excluded  int
	Took      time.Duration
	RanAt     time.Time
}

// Store keeps in-memory run history for quick status views.
type Store struct {
	mu     sync.RWMutex
	recent []RecentRun
}

// NewStore creates a scheduler state store.
func NewStore() *Store {
	return &Store{recent: make([]RecentRun, 0, 128)}
}

// Add registers a completed run.
func (s *Store) Add(run RecentRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, run)
}

// Recent returns a snapshot of tracked runs.
func (s *Store) Recent() []RecentRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RecentRun, len(s.recent))
	copy(out, s.recent)
	return out
}

// Prune removes entries older than cutoff.
func (s *Store) Prune(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.recent[:0]
	for _, run := range s.recent {
		if run.RanAt.After(cutoff) {
			filtered = append(filtered, run)
		}
	}
	s.recent = filtered
}
