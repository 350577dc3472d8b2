package storage

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/flowdeck-io/flowdeck/types"
)

// Errors
var (
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrStepNotFound     = errors.New("step not found")
)

// Filter narrows ListWorkflows results.
type Filter struct {
	Status string // empty = all
}

// Store is the authoritative owner of workflows and their steps. Every
// mutation is immediately visible to all readers; there is no caching
// layer in front of an implementation.
type Store interface {
	// CreateWorkflow persists a new workflow in draft status. Missing
	// workflow and step IDs are minted; step orders are normalized to
	// distinct values. The stored copy is returned.
	CreateWorkflow(ctx context.Context, wf types.Workflow) (types.Workflow, error)

	// GetWorkflow retrieves a workflow by ID.
	GetWorkflow(ctx context.Context, id string) (types.Workflow, error)

	// ListWorkflows returns all workflows matching the filter, in
	// creation order.
	ListWorkflows(ctx context.Context, filter Filter) ([]types.Workflow, error)

	// ReplaceWorkflow replaces the name, description and steps of the
	// workflow identified by wf.ID as a single atomic write. Status and
	// creation time are preserved. The stored copy is returned.
	ReplaceWorkflow(ctx context.Context, wf types.Workflow) (types.Workflow, error)

	// UpdateStepRequirements replaces the requirements of one step.
	UpdateStepRequirements(ctx context.Context, workflowID, stepID string, req types.Requirements) error

	// SetStatus sets the lifecycle status of a workflow.
	SetStatus(ctx context.Context, id string, status string) error

	// DeleteWorkflow removes a workflow.
	DeleteWorkflow(ctx context.Context, id string) error
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only
// return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

// normalizeSteps mints missing step IDs and reassigns dense, distinct
// order values following the given sequence. Ties cannot survive a write.
func normalizeSteps(steps []types.Step) []types.Step {
	out := make([]types.Step, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
		if out[i].ID == "" {
			out[i].ID = ulid.Make().String()
		}
		out[i].Order = i
	}
	return out
}
