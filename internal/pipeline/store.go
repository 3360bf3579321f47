package pipeline

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no run exists for a given id.
	ErrNotFound = errors.New("no run with that id")
)

// RunStore is a concurrency-safe in-memory registry of pipeline runs.
type RunStore struct {
	mu sync.RWMutex

	// key: run id
	data  map[string]*Run
	order []string

	// retention configuration
	maxHistory int           // max number of retained runs
	maxAge     time.Duration // optional max age for finished runs
}

// NewRunStore creates a new RunStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewRunStore(maxHistory int, maxAge time.Duration) *RunStore {
	return &RunStore{
		data:       make(map[string]*Run),
		maxHistory: maxHistory,
		maxAge:     maxAge,
	}
}

// Save inserts or replaces a run and enforces retention.
func (s *RunStore) Save(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	s.data[run.ID] = run

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.order) > s.maxHistory {
		over := len(s.order) - s.maxHistory
		for _, id := range s.order[:over] {
			delete(s.data, id)
		}
		s.order = s.order[over:]
	}

	// Enforce retention by age. Unfinished runs are never aged out.
	if s.maxAge > 0 {
		cutoff := time.Now().Add(-s.maxAge)
		kept := s.order[:0]
		for _, id := range s.order {
			r := s.data[id]
			if !r.FinishedAt.IsZero() && r.FinishedAt.Before(cutoff) {
				delete(s.data, id)
				continue
			}
			kept = append(kept, id)
		}
		s.order = kept
	}
}

// Get returns the run with the given id.
func (s *RunStore) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return run, nil
}

// List returns all retained runs, oldest first.
func (s *RunStore) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Run, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.data[id])
	}
	return out
}

// Latest returns the most recently created run.
func (s *RunStore) Latest() (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.order) == 0 {
		return nil, ErrNotFound
	}
	return s.data[s.order[len(s.order)-1]], nil
}
