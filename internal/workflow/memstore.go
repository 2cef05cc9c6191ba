package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pitabwire/switchboard/model"
)

// DefaultMaxRuns bounds the memory store when no limit is given.
const DefaultMaxRuns = 1000

// MemoryRunStore is an in-memory RunStore. When full, the oldest finished
// run is evicted to make room.
type MemoryRunStore struct {
	mu      sync.RWMutex
	runs    map[string]model.WorkflowRun
	order   []string // run ids in creation order
	maxRuns int
}

// NewMemoryRunStore creates an in-memory store holding at most maxRuns runs.
// A non-positive maxRuns selects DefaultMaxRuns.
func NewMemoryRunStore(maxRuns int) *MemoryRunStore {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	return &MemoryRunStore{
		runs:    make(map[string]model.WorkflowRun),
		maxRuns: maxRuns,
	}
}

// Create persists a new run.
func (s *MemoryRunStore) Create(_ context.Context, run model.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("workflow run %q already exists", run.ID))
	}
	if len(s.runs) >= s.maxRuns {
		s.evictLocked()
	}

	s.runs[run.ID] = cloneRun(run)
	s.order = append(s.order, run.ID)
	return nil
}

// evictLocked drops the oldest finished run, or the oldest run if every
// stored run is still in flight.
func (s *MemoryRunStore) evictLocked() {
	victim := -1
	for i, id := range s.order {
		if s.runs[id].Status != model.RunStatusRunning {
			victim = i
			break
		}
	}
	if victim < 0 {
		victim = 0
	}
	delete(s.runs, s.order[victim])
	s.order = append(s.order[:victim], s.order[victim+1:]...)
}

// Update replaces a stored run.
func (s *MemoryRunStore) Update(_ context.Context, run model.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		return model.NewNotFoundError(fmt.Sprintf("workflow run %q not found", run.ID))
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// Get retrieves a run by id.
func (s *MemoryRunStore) Get(_ context.Context, runID string) (model.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return model.WorkflowRun{}, model.NewNotFoundError(fmt.Sprintf("workflow run %q not found", runID))
	}
	return cloneRun(run), nil
}

// List returns runs newest first.
func (s *MemoryRunStore) List(_ context.Context, filters RunFilters) ([]model.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.WorkflowRun, 0, len(s.runs))
	for _, run := range s.runs {
		if filters.WorkflowID != "" && run.WorkflowID != filters.WorkflowID {
			continue
		}
		if filters.Status != "" && run.Status != filters.Status {
			continue
		}
		result = append(result, cloneRun(run))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []model.WorkflowRun{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, nil
}

// HealthCheck always succeeds.
func (s *MemoryRunStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of stored runs. For testing.
func (s *MemoryRunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
