package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdeck-io/flowdeck/types"
)

// newTestRedisStore connects to a local Redis, skipping the test when
// none is available.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	store, err := NewRedisStore(RedisOptions{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		IdleTimeout:  5 * time.Minute,
	})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisStore(t)

	t.Run("CreateAndGetWorkflow", func(t *testing.T) {
		wf, err := store.CreateWorkflow(ctx, newSampleWorkflow("Orders"))
		require.NoError(t, err)
		defer func() { _ = store.DeleteWorkflow(ctx, wf.ID) }()

		got, err := store.GetWorkflow(ctx, wf.ID)
		assert.NoError(t, err)
		assert.Equal(t, wf.ID, got.ID)
		assert.Equal(t, types.StatusDraft, got.Status)
		assert.Len(t, got.Steps, 3)

		_, err = store.GetWorkflow(ctx, "missing")
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
	})

	t.Run("UpdateStepRequirementsRoundTrip", func(t *testing.T) {
		wf, err := store.CreateWorkflow(ctx, newSampleWorkflow("Orders"))
		require.NoError(t, err)
		defer func() { _ = store.DeleteWorkflow(ctx, wf.ID) }()

		req := types.Requirements{
			IsComplete: true,
			Text:       "triage carefully",
			Blueprint:  &types.Blueprint{AllowedActions: []string{"label"}, Restrictions: []string{"no sending"}},
		}
		require.NoError(t, store.UpdateStepRequirements(ctx, wf.ID, wf.Steps[1].ID, req))

		got, err := store.GetWorkflow(ctx, wf.ID)
		assert.NoError(t, err)
		assert.NotNil(t, got.Steps[1].Requirements)
		assert.True(t, got.Steps[1].Requirements.IsComplete)
		assert.Equal(t, []string{"label"}, got.Steps[1].Requirements.Blueprint.AllowedActions)
	})

	t.Run("SetStatusAndList", func(t *testing.T) {
		wf, err := store.CreateWorkflow(ctx, newSampleWorkflow("Orders"))
		require.NoError(t, err)
		defer func() { _ = store.DeleteWorkflow(ctx, wf.ID) }()

		require.NoError(t, store.SetStatus(ctx, wf.ID, types.StatusActive))

		active, err := store.ListWorkflows(ctx, Filter{Status: types.StatusActive})
		assert.NoError(t, err)
		found := false
		for _, item := range active {
			if item.ID == wf.ID {
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("DeleteWorkflow", func(t *testing.T) {
		wf, err := store.CreateWorkflow(ctx, newSampleWorkflow("Orders"))
		require.NoError(t, err)

		assert.NoError(t, store.DeleteWorkflow(ctx, wf.ID))
		_, err = store.GetWorkflow(ctx, wf.ID)
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
		assert.ErrorIs(t, store.DeleteWorkflow(ctx, wf.ID), ErrWorkflowNotFound)
	})
}
