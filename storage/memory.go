package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/flowdeck-io/flowdeck/types"
)

// MemoryStore is the in-memory implementation of the Store interface.
// It holds the single authoritative copy of every workflow.
type MemoryStore struct {
	workflows map[string]types.Workflow
	mu        sync.RWMutex
}

// NewMemoryStore creates a new MemoryStore instance.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]types.Workflow),
	}
}

// CreateWorkflow persists a new workflow in draft status.
func (s *MemoryStore) CreateWorkflow(ctx context.Context, wf types.Workflow) (types.Workflow, error) {
	return withContext(ctx, func() (types.Workflow, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		stored := wf.Clone()
		if stored.ID == "" {
			stored.ID = ulid.Make().String()
		}
		stored.Status = types.StatusDraft
		stored.Steps = normalizeSteps(stored.Steps)
		now := time.Now().UnixMilli()
		stored.CreatedAt = now
		stored.UpdatedAt = now

		s.workflows[stored.ID] = stored
		return stored.Clone(), nil
	})
}

// GetWorkflow retrieves a workflow from memory.
func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (types.Workflow, error) {
	return withContext(ctx, func() (types.Workflow, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		wf, ok := s.workflows[id]
		if !ok {
			return types.Workflow{}, fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
		}
		return wf.Clone(), nil
	})
}

// ListWorkflows returns all workflows matching the filter in creation order.
func (s *MemoryStore) ListWorkflows(ctx context.Context, filter Filter) ([]types.Workflow, error) {
	return withContext(ctx, func() ([]types.Workflow, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		out := make([]types.Workflow, 0, len(s.workflows))
		for _, wf := range s.workflows {
			if filter.Status != "" && wf.Status != filter.Status {
				continue
			}
			out = append(out, wf.Clone())
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt != out[j].CreatedAt {
				return out[i].CreatedAt < out[j].CreatedAt
			}
			return out[i].ID < out[j].ID
		})
		return out, nil
	})
}

// ReplaceWorkflow replaces name, description and steps in one write.
func (s *MemoryStore) ReplaceWorkflow(ctx context.Context, wf types.Workflow) (types.Workflow, error) {
	return withContext(ctx, func() (types.Workflow, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		current, ok := s.workflows[wf.ID]
		if !ok {
			return types.Workflow{}, fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, wf.ID)
		}

		current.Name = wf.Name
		current.Description = wf.Description
		current.Steps = normalizeSteps(wf.Steps)
		current.UpdatedAt = time.Now().UnixMilli()

		s.workflows[current.ID] = current
		return current.Clone(), nil
	})
}

// UpdateStepRequirements replaces the requirements of one step.
func (s *MemoryStore) UpdateStepRequirements(ctx context.Context, workflowID, stepID string, req types.Requirements) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		wf, ok := s.workflows[workflowID]
		if !ok {
			return fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, workflowID)
		}
		for i := range wf.Steps {
			if wf.Steps[i].ID == stepID {
				r := req.Clone()
				wf.Steps[i].Requirements = &r
				wf.UpdatedAt = time.Now().UnixMilli()
				s.workflows[workflowID] = wf
				return nil
			}
		}
		return fmt.Errorf("%w: workflow=%s step=%s", ErrStepNotFound, workflowID, stepID)
	})
}

// SetStatus sets the lifecycle status of a workflow.
func (s *MemoryStore) SetStatus(ctx context.Context, id string, status string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		wf, ok := s.workflows[id]
		if !ok {
			return fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
		}
		wf.Status = status
		wf.UpdatedAt = time.Now().UnixMilli()
		s.workflows[id] = wf
		return nil
	})
}

// DeleteWorkflow removes a workflow from memory.
func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if _, ok := s.workflows[id]; !ok {
			return fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
		}
		delete(s.workflows, id)
		return nil
	})
}
