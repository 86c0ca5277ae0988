// Package workflowtest provides an in-memory workflow store for tests.
package workflowtest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"bella-server/internal/domain/status"
	"bella-server/internal/domain/workflow"
)

// MemoryStore implements workflow.Store and workflow.Queue in memory.
type MemoryStore struct {
	mu          sync.Mutex
	executions  map[string]*workflow.Execution
	checkpoints map[string]map[string]*workflow.Checkpoint
	Now         func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions:  make(map[string]*workflow.Execution),
		checkpoints: make(map[string]map[string]*workflow.Checkpoint),
		Now:         time.Now,
	}
}

var (
	_ workflow.Store = (*MemoryStore)(nil)
	_ workflow.Queue = (*MemoryStore)(nil)
)

func (s *MemoryStore) CreateIfAbsent(ctx context.Context, execution *workflow.Execution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[execution.ID]; ok {
		return false, nil
	}
	now := s.Now()
	cp := *execution
	cp.Status = status.ExecutionPending
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.executions[execution.ID] = &cp
	return true, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*workflow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, workflow.ErrExecutionNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) Checkpoints(ctx context.Context, executionID string) ([]workflow.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.Checkpoint
	for _, cp := range s.checkpoints[executionID] {
		out = append(out, *cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) StartActivityAttempt(ctx context.Context, executionID, activity string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.checkpoint(executionID, activity)
	cp.Attempts++
	cp.Status = status.CheckpointRunning
	cp.UpdatedAt = s.Now()
	return cp.Attempts, nil
}

func (s *MemoryStore) CompleteActivity(ctx context.Context, executionID, activity string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.checkpoint(executionID, activity)
	cp.Status = status.CheckpointCompleted
	cp.Result = append(json.RawMessage(nil), result...)
	cp.LastError = ""
	cp.UpdatedAt = s.Now()
	return nil
}

func (s *MemoryStore) FailActivity(ctx context.Context, executionID, activity, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.checkpoint(executionID, activity)
	cp.Status = status.CheckpointFailed
	cp.LastError = errMsg
	cp.UpdatedAt = s.Now()
	return nil
}

func (s *MemoryStore) Finish(ctx context.Context, id, owner string, st status.Execution, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok {
		return workflow.ErrExecutionNotFound
	}
	if e.Status != status.ExecutionRunning || e.LeaseOwner != owner {
		return workflow.ErrLeaseLost
	}
	now := s.Now()
	e.Status = st
	e.LastError = errMsg
	e.LeaseOwner = ""
	e.LeaseExpiresAt = nil
	e.UpdatedAt = now
	e.CompletedAt = &now
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, owner string, lease time.Duration) (*workflow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()

	var candidates []*workflow.Execution
	for _, e := range s.executions {
		switch {
		case e.Status == status.ExecutionPending:
			candidates = append(candidates, e)
		case e.Status == status.ExecutionRunning && e.LeaseExpiresAt != nil && !e.LeaseExpiresAt.After(now):
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })

	e := candidates[0]
	expires := now.Add(lease)
	e.Status = status.ExecutionRunning
	e.Attempts++
	e.LeaseOwner = owner
	e.LeaseExpiresAt = &expires
	e.UpdatedAt = now
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ExtendLease(ctx context.Context, id, owner string, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok || e.Status != status.ExecutionRunning || e.LeaseOwner != owner {
		return workflow.ErrLeaseLost
	}
	expires := s.Now().Add(lease)
	e.LeaseExpiresAt = &expires
	return nil
}

func (s *MemoryStore) Depth(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.executions {
		if e.Status == status.ExecutionPending {
			n++
		}
	}
	return n, nil
}

// Checkpoint returns a copy of one checkpoint, for assertions.
func (s *MemoryStore) Checkpoint(executionID, activity string) (workflow.Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[executionID][activity]
	if !ok {
		return workflow.Checkpoint{}, false
	}
	return *cp, true
}

func (s *MemoryStore) checkpoint(executionID, activity string) *workflow.Checkpoint {
	byActivity, ok := s.checkpoints[executionID]
	if !ok {
		byActivity = make(map[string]*workflow.Checkpoint)
		s.checkpoints[executionID] = byActivity
	}
	cp, ok := byActivity[activity]
	if !ok {
		now := s.Now()
		cp = &workflow.Checkpoint{
			ExecutionID: executionID,
			Activity:    activity,
			Status:      status.CheckpointRunning,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		byActivity[activity] = cp
	}
	return cp
}
