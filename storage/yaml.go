package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/flowdeck-io/flowdeck/types"
)

// YAMLStore is a file-backed implementation of the Store interface. The
// whole collection is snapshotted to a single YAML document on every
// mutation, which keeps the on-disk copy human-editable.
type YAMLStore struct {
	path      string
	workflows map[string]types.Workflow
	mu        sync.RWMutex
}

type yamlDocument struct {
	Workflows []types.Workflow `yaml:"workflows"`
}

// NewYAMLStore creates a YAMLStore persisting to path, loading any
// existing snapshot.
func NewYAMLStore(path string) (*YAMLStore, error) {
	s := &YAMLStore{
		path:      path,
		workflows: make(map[string]types.Workflow),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}
	for _, wf := range doc.Workflows {
		s.workflows[wf.ID] = wf
	}
	return s, nil
}

// persist writes the whole collection; caller holds the lock.
func (s *YAMLStore) persist() error {
	doc := yamlDocument{Workflows: make([]types.Workflow, 0, len(s.workflows))}
	for _, wf := range s.workflows {
		doc.Workflows = append(doc.Workflows, wf)
	}
	sort.Slice(doc.Workflows, func(i, j int) bool {
		if doc.Workflows[i].CreatedAt != doc.Workflows[j].CreatedAt {
			return doc.Workflows[i].CreatedAt < doc.Workflows[j].CreatedAt
		}
		return doc.Workflows[i].ID < doc.Workflows[j].ID
	})

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal workflows: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	// Write-then-rename keeps the snapshot atomic on the filesystem.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// CreateWorkflow persists a new workflow in draft status.
func (s *YAMLStore) CreateWorkflow(ctx context.Context, wf types.Workflow) (types.Workflow, error) {
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
		if err := s.persist(); err != nil {
			delete(s.workflows, stored.ID)
			return types.Workflow{}, err
		}
		return stored.Clone(), nil
	})
}

// GetWorkflow retrieves a workflow from the snapshot.
func (s *YAMLStore) GetWorkflow(ctx context.Context, id string) (types.Workflow, error) {
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
func (s *YAMLStore) ListWorkflows(ctx context.Context, filter Filter) ([]types.Workflow, error) {
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
func (s *YAMLStore) ReplaceWorkflow(ctx context.Context, wf types.Workflow) (types.Workflow, error) {
	return withContext(ctx, func() (types.Workflow, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		current, ok := s.workflows[wf.ID]
		if !ok {
			return types.Workflow{}, fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, wf.ID)
		}

		previous := current
		current.Name = wf.Name
		current.Description = wf.Description
		current.Steps = normalizeSteps(wf.Steps)
		current.UpdatedAt = time.Now().UnixMilli()

		s.workflows[current.ID] = current
		if err := s.persist(); err != nil {
			s.workflows[current.ID] = previous
			return types.Workflow{}, err
		}
		return current.Clone(), nil
	})
}

// UpdateStepRequirements replaces the requirements of one step.
func (s *YAMLStore) UpdateStepRequirements(ctx context.Context, workflowID, stepID string, req types.Requirements) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		previous, ok := s.workflows[workflowID]
		if !ok {
			return fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, workflowID)
		}
		wf := previous.Clone()
		for i := range wf.Steps {
			if wf.Steps[i].ID == stepID {
				r := req.Clone()
				wf.Steps[i].Requirements = &r
				wf.UpdatedAt = time.Now().UnixMilli()
				s.workflows[workflowID] = wf
				if err := s.persist(); err != nil {
					s.workflows[workflowID] = previous
					return err
				}
				return nil
			}
		}
		return fmt.Errorf("%w: workflow=%s step=%s", ErrStepNotFound, workflowID, stepID)
	})
}

// SetStatus sets the lifecycle status of a workflow.
func (s *YAMLStore) SetStatus(ctx context.Context, id string, status string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		previous, ok := s.workflows[id]
		if !ok {
			return fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
		}
		wf := previous
		wf.Status = status
		wf.UpdatedAt = time.Now().UnixMilli()
		s.workflows[id] = wf
		if err := s.persist(); err != nil {
			s.workflows[id] = previous
			return err
		}
		return nil
	})
}

// DeleteWorkflow removes a workflow from the snapshot.
func (s *YAMLStore) DeleteWorkflow(ctx context.Context, id string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		previous, ok := s.workflows[id]
		if !ok {
			return fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
		}
		delete(s.workflows, id)
		if err := s.persist(); err != nil {
			s.workflows[id] = previous
			return err
		}
		return nil
	})
}
