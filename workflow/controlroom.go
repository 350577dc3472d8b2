package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/flowdeck-io/flowdeck/events"
	"github.com/flowdeck-io/flowdeck/rules"
	"github.com/flowdeck-io/flowdeck/types"
)

// ExecutionControl notifies the execution side of an operator decision
// on a review item. Calls are fire and forget: the control room retires
// the item whether or not the notification succeeds.
type ExecutionControl interface {
	Approve(ctx context.Context, item types.ReviewItem) error
	Reject(ctx context.Context, item types.ReviewItem) error
}

// ControlRoom reconciles roster snapshots and the execution event stream
// into three mutually exclusive, deduplicated dashboard lists: watching,
// needs-review and completed. It owns the lists exclusively and never
// mutates workflows. Within each list, arrival order is preserved.
type ControlRoom struct {
	generate  generator.Generator
	control   ExecutionControl
	evaluator rules.Evaluator
	filter    string
	logger    *slog.Logger

	mu        sync.RWMutex
	watching  []types.WatchItem
	reviews   []types.ReviewItem
	completed []types.CompletedItem
}

// ControlRoomOption defines functional options for configuring a ControlRoom.
type ControlRoomOption func(*ControlRoom)

// WithRosterFilter overrides the default active-AI-worker expression.
func WithRosterFilter(expression string) ControlRoomOption {
	return func(c *ControlRoom) {
		c.filter = expression
	}
}

// WithEvaluator sets a custom evaluator for the roster filter.
func WithEvaluator(evaluator rules.Evaluator) ControlRoomOption {
	return func(c *ControlRoom) {
		if evaluator != nil {
			c.evaluator = evaluator
		}
	}
}

// WithLogger sets the control room logger.
func WithLogger(logger *slog.Logger) ControlRoomOption {
	return func(c *ControlRoom) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewControlRoom creates a ControlRoom with the given item ID generator
// and execution-control collaborator.
func NewControlRoom(generate generator.Generator, control ExecutionControl, options ...ControlRoomOption) (*ControlRoom, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if control == nil {
		return nil, errors.New("execution control is required")
	}

	c := &ControlRoom{
		generate:  generate,
		control:   control,
		evaluator: rules.NewExprEvaluator(),
		filter:    rules.ActiveAIWorkerFilter,
		logger:    slog.Default(),
	}
	for _, option := range options {
		option(c)
	}
	return c, nil
}

// ApplyRoster reconciles the watching list against a full roster
// snapshot. Entries whose worker left the active set are removed
// immediately; surviving entries keep their identity and topic; every
// newly active worker gains exactly one entry, keyed by worker name.
func (c *ControlRoom) ApplyRoster(workers []types.WorkerNode) error {
	active := make([]types.WorkerNode, 0, len(workers))
	names := make(map[string]bool, len(workers))
	for _, w := range workers {
		match, err := c.evaluator.Evaluate(c.filter, rules.WorkerEnv(w))
		if err != nil {
			return fmt.Errorf("failed to evaluate roster filter: %w", err)
		}
		if !match || names[w.Name] {
			continue
		}
		active = append(active, w)
		names[w.Name] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	present := make(map[string]bool, len(c.watching))
	for _, item := range c.watching {
		if names[item.WorkerName] {
			present[item.WorkerName] = true
		}
	}

	// Mint every new entry before touching the list so a failed ID
	// generation leaves the tick unapplied.
	inserts := make([]types.WatchItem, 0, len(active))
	for _, w := range active {
		if present[w.Name] {
			continue
		}
		id, err := c.generate.NextID()
		if err != nil {
			return fmt.Errorf("failed to generate watch item ID: %w", err)
		}
		topic := types.StandbyTopic
		if len(w.Workflows) > 0 {
			topic = w.Workflows[0]
		}
		inserts = append(inserts, types.WatchItem{
			ID:         id,
			WorkerName: w.Name,
			Topic:      topic,
		})
	}

	kept := c.watching[:0]
	for _, item := range c.watching {
		if names[item.WorkerName] {
			kept = append(kept, item)
		}
	}
	c.watching = append(kept, inserts...)
	return nil
}

// ApplyUpdate folds one stream event into the lists. Progress updates
// are idempotent per worker name; review items are never deduplicated;
// a completion clears every watcher of the completed workflow.
func (c *ControlRoom) ApplyUpdate(update types.ControlRoomUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch update.Type {
	case types.UpdateWorkflowProgress:
		if update.WorkerName == "" {
			return nil
		}
		for _, item := range c.watching {
			if item.WorkerName == update.WorkerName {
				return nil
			}
		}
		id, err := c.generate.NextID()
		if err != nil {
			return fmt.Errorf("failed to generate watch item ID: %w", err)
		}
		topic := update.WorkflowID
		if topic == "" {
			topic = types.StandbyTopic
		}
		c.watching = append(c.watching, types.WatchItem{
			ID:         id,
			WorkerName: update.WorkerName,
			Topic:      topic,
		})

	case types.UpdateReviewNeeded:
		id, err := c.generate.NextID()
		if err != nil {
			return fmt.Errorf("failed to generate review item ID: %w", err)
		}
		action := types.ReviewAction{}
		if update.Action != nil {
			action = *update.Action
		}
		c.reviews = append(c.reviews, types.ReviewItem{
			ID:         id,
			WorkflowID: update.WorkflowID,
			StepID:     update.StepID,
			WorkerName: update.WorkerName,
			Action:     action,
			CreatedAt:  updateTimestamp(update),
		})

	case types.UpdateCompleted:
		id, err := c.generate.NextID()
		if err != nil {
			return fmt.Errorf("failed to generate completed item ID: %w", err)
		}
		outcome := update.Outcome
		if outcome == "" {
			outcome = defaultOutcome
		}
		c.completed = append(c.completed, types.CompletedItem{
			ID:         id,
			WorkflowID: update.WorkflowID,
			WorkerName: update.WorkerName,
			Outcome:    outcome,
			CreatedAt:  updateTimestamp(update),
		})

		kept := c.watching[:0]
		for _, item := range c.watching {
			if item.Topic == update.WorkflowID {
				continue
			}
			kept = append(kept, item)
		}
		c.watching = kept

	default:
		c.logger.Debug("ignoring unknown control-room update", "type", update.Type)
	}
	return nil
}

// Approve notifies execution of an approval and retires the review item.
// The item is removed even when the control call fails; the failure is
// logged and not re-surfaced.
func (c *ControlRoom) Approve(ctx context.Context, reviewID uint64) error {
	return c.decide(ctx, reviewID, "approve", c.control.Approve)
}

// Reject notifies execution of a rejection and retires the review item.
// Removal semantics match Approve.
func (c *ControlRoom) Reject(ctx context.Context, reviewID uint64) error {
	return c.decide(ctx, reviewID, "reject", c.control.Reject)
}

func (c *ControlRoom) decide(ctx context.Context, reviewID uint64, decision string, notify func(context.Context, types.ReviewItem) error) error {
	c.mu.Lock()
	idx := -1
	var item types.ReviewItem
	for i, r := range c.reviews {
		if r.ID == reviewID {
			idx = i
			item = r
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: id=%d", ErrReviewNotFound, reviewID)
	}
	c.reviews = append(c.reviews[:idx], c.reviews[idx+1:]...)
	c.mu.Unlock()

	if err := notify(ctx, item); err != nil {
		c.logger.Warn("execution control call failed, item retired anyway",
			"decision", decision,
			"review_id", reviewID,
			"workflow_id", item.WorkflowID,
			"error", err)
	}
	return nil
}

// Attach subscribes the control room to the event bus for the lifetime
// of the dashboard view. The returned function detaches it.
func (c *ControlRoom) Attach(bus *events.Bus) func() {
	handler := events.HandlerFunc(func(ctx context.Context, update types.ControlRoomUpdate) error {
		return c.ApplyUpdate(update)
	})
	kinds := []string{types.UpdateWorkflowProgress, types.UpdateReviewNeeded, types.UpdateCompleted}
	for _, kind := range kinds {
		bus.Subscribe(kind, handler)
	}
	return func() {
		for _, kind := range kinds {
			bus.Unsubscribe(kind, handler)
		}
	}
}

// Watching returns a copy of the watching list in arrival order.
func (c *ControlRoom) Watching() []types.WatchItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.WatchItem(nil), c.watching...)
}

// Reviews returns a copy of the needs-review list in arrival order.
func (c *ControlRoom) Reviews() []types.ReviewItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.ReviewItem(nil), c.reviews...)
}

// Completed returns a copy of the completed list in arrival order.
func (c *ControlRoom) Completed() []types.CompletedItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.CompletedItem(nil), c.completed...)
}

func updateTimestamp(update types.ControlRoomUpdate) int64 {
	if update.Timestamp != 0 {
		return update.Timestamp
	}
	return time.Now().UnixMilli()
}
