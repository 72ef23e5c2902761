// Package memory provides in-process stores for tests and local development.
// Nothing here survives a restart, so none of it is authoritative across processes.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/jonidaniel/jobsai/internal/job"
)

// StateStore keeps job records in a map guarded by a mutex.
type StateStore struct {
	mu        sync.RWMutex
	jobs      map[string]job.State
	retention time.Duration
	now       func() time.Time
}

// NewStateStore constructs a StateStore. A zero retention uses job.DefaultRetention.
func NewStateStore(retention time.Duration) *StateStore {
	if retention <= 0 {
		retention = job.DefaultRetention
	}
	return &StateStore{
		jobs:      make(map[string]job.State),
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new record.
func (s *StateStore) Create(_ context.Context, state job.State) error {
	if state.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[state.JobID]; ok && !s.expired(existing) {
		return job.ErrAlreadyExists
	}
	state.ExpiresAt = s.now().Add(s.retention)
	s.jobs[state.JobID] = cloneState(state)
	return nil
}

// Get returns a copy of the record.
func (s *StateStore) Get(_ context.Context, jobID string) (job.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.jobs[jobID]
	if !ok || s.expired(state) {
		return job.State{}, job.ErrNotFound
	}
	return cloneState(state), nil
}

// UpdateProgress overwrites the progress field.
func (s *StateStore) UpdateProgress(_ context.Context, jobID string, progress job.Progress) error {
	return s.mutate(jobID, func(state *job.State) {
		p := progress
		state.Progress = &p
	})
}

// UpdateTerminal sets a terminal status with its result or error.
func (s *StateStore) UpdateTerminal(
	_ context.Context,
	jobID string,
	status job.Status,
	result map[string]any,
	errMsg string,
) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	return s.mutate(jobID, func(state *job.State) {
		state.Status = status
		if result != nil {
			state.Result = maps.Clone(result)
		}
		state.Error = errMsg
	})
}

// RequestCancellation moves a running job to cancelling.
func (s *StateStore) RequestCancellation(_ context.Context, jobID string) error {
	return s.mutate(jobID, func(state *job.State) {
		if state.Status == job.StatusRunning {
			state.Status = job.StatusCancelling
		}
	})
}

// DeleteExpired removes reclaimable records and reports how many were dropped.
func (s *StateStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, state := range s.jobs {
		if s.expired(state) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *StateStore) mutate(jobID string, fn func(*job.State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[jobID]
	if !ok || s.expired(state) {
		return job.ErrNotFound
	}
	fn(&state)
	state.ExpiresAt = s.now().Add(s.retention)
	s.jobs[jobID] = state
	return nil
}

func (s *StateStore) expired(state job.State) bool {
	return !state.ExpiresAt.IsZero() && !s.now().Before(state.ExpiresAt)
}

func cloneState(state job.State) job.State {
	if state.Progress != nil {
		p := *state.Progress
		state.Progress = &p
	}
	state.Result = maps.Clone(state.Result)
	return state
}
