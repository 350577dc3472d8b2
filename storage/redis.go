package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"

	"github.com/flowdeck-io/flowdeck/types"
)

const (
	workflowPrefix   = "workflow:"
	workflowIndexKey = "workflow:index"
)

// RedisStore is a Redis-backed implementation of the Store interface.
// It assumes a single coordinating process; read-modify-write operations
// are not guarded against concurrent writers on other hosts.
type RedisStore struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStore creates a new RedisStore instance with configurable options.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStore{client: client}, nil
}

func workflowKey(id string) string {
	return workflowPrefix + id
}

// save writes a workflow and keeps the listing index in step.
func (s *RedisStore) save(ctx context.Context, wf types.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %v", wf.ID, err)
	}
	if err := s.client.Set(ctx, workflowKey(wf.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s in Redis: %v", workflowKey(wf.ID), err)
	}
	if err := s.client.ZAdd(ctx, workflowIndexKey, &redis.Z{
		Score:  float64(wf.CreatedAt),
		Member: wf.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index workflow %s: %v", wf.ID, err)
	}
	return nil
}

// load reads a workflow, mapping a missing key to ErrWorkflowNotFound.
func (s *RedisStore) load(ctx context.Context, id string) (types.Workflow, error) {
	data, err := s.client.Get(ctx, workflowKey(id)).Bytes()
	if err == redis.Nil {
		return types.Workflow{}, fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
	}
	if err != nil {
		return types.Workflow{}, fmt.Errorf("failed to get %s from Redis: %v", workflowKey(id), err)
	}
	var wf types.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return types.Workflow{}, fmt.Errorf("failed to unmarshal workflow %s: %v", id, err)
	}
	return wf, nil
}

// CreateWorkflow persists a new workflow in draft status.
func (s *RedisStore) CreateWorkflow(ctx context.Context, wf types.Workflow) (types.Workflow, error) {
	return withContext(ctx, func() (types.Workflow, error) {
		stored := wf.Clone()
		if stored.ID == "" {
			stored.ID = ulid.Make().String()
		}
		stored.Status = types.StatusDraft
		stored.Steps = normalizeSteps(stored.Steps)
		now := time.Now().UnixMilli()
		stored.CreatedAt = now
		stored.UpdatedAt = now

		if err := s.save(ctx, stored); err != nil {
			return types.Workflow{}, err
		}
		return stored, nil
	})
}

// GetWorkflow retrieves a workflow from Redis.
func (s *RedisStore) GetWorkflow(ctx context.Context, id string) (types.Workflow, error) {
	return withContext(ctx, func() (types.Workflow, error) {
		return s.load(ctx, id)
	})
}

// ListWorkflows returns all workflows matching the filter in creation order.
func (s *RedisStore) ListWorkflows(ctx context.Context, filter Filter) ([]types.Workflow, error) {
	return withContext(ctx, func() ([]types.Workflow, error) {
		ids, err := s.client.ZRange(ctx, workflowIndexKey, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read workflow index: %v", err)
		}
		out := make([]types.Workflow, 0, len(ids))
		for _, id := range ids {
			wf, err := s.load(ctx, id)
			if err != nil {
				// Index may trail a delete; skip dangling entries.
				continue
			}
			if filter.Status != "" && wf.Status != filter.Status {
				continue
			}
			out = append(out, wf)
		}
		return out, nil
	})
}

// ReplaceWorkflow replaces name, description and steps in one write.
func (s *RedisStore) ReplaceWorkflow(ctx context.Context, wf types.Workflow) (types.Workflow, error) {
	return withContext(ctx, func() (types.Workflow, error) {
		current, err := s.load(ctx, wf.ID)
		if err != nil {
			return types.Workflow{}, err
		}
		current.Name = wf.Name
		current.Description = wf.Description
		current.Steps = normalizeSteps(wf.Steps)
		current.UpdatedAt = time.Now().UnixMilli()

		if err := s.save(ctx, current); err != nil {
			return types.Workflow{}, err
		}
		return current, nil
	})
}

// UpdateStepRequirements replaces the requirements of one step.
func (s *RedisStore) UpdateStepRequirements(ctx context.Context, workflowID, stepID string, req types.Requirements) error {
	return withContextError(ctx, func() error {
		wf, err := s.load(ctx, workflowID)
		if err != nil {
			return err
		}
		for i := range wf.Steps {
			if wf.Steps[i].ID == stepID {
				r := req.Clone()
				wf.Steps[i].Requirements = &r
				wf.UpdatedAt = time.Now().UnixMilli()
				return s.save(ctx, wf)
			}
		}
		return fmt.Errorf("%w: workflow=%s step=%s", ErrStepNotFound, workflowID, stepID)
	})
}

// SetStatus sets the lifecycle status of a workflow.
func (s *RedisStore) SetStatus(ctx context.Context, id string, status string) error {
	return withContextError(ctx, func() error {
		wf, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		wf.Status = status
		wf.UpdatedAt = time.Now().UnixMilli()
		return s.save(ctx, wf)
	})
}

// DeleteWorkflow removes a workflow and its index entry.
func (s *RedisStore) DeleteWorkflow(ctx context.Context, id string) error {
	return withContextError(ctx, func() error {
		n, err := s.client.Del(ctx, workflowKey(id)).Result()
		if err != nil {
			return fmt.Errorf("failed to delete %s from Redis: %v", workflowKey(id), err)
		}
		if n == 0 {
			return fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
		}
		if err := s.client.ZRem(ctx, workflowIndexKey, id).Err(); err != nil {
			return fmt.Errorf("failed to unindex workflow %s: %v", id, err)
		}
		return nil
	})
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
