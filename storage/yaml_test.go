package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdeck-io/flowdeck/types"
)

func TestYAMLStore(t *testing.T) {
	ctx := context.Background()

	t.Run("CreatePersistsAndReloads", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workflows.yaml")
		store, err := NewYAMLStore(path)
		require.NoError(t, err)

		wf, err := store.CreateWorkflow(ctx, newSampleWorkflow("Orders"))
		require.NoError(t, err)

		req := types.Requirements{IsComplete: true, Text: "triage carefully"}
		require.NoError(t, store.UpdateStepRequirements(ctx, wf.ID, wf.Steps[1].ID, req))

		// A fresh store over the same file sees the same state.
		reloaded, err := NewYAMLStore(path)
		require.NoError(t, err)
		got, err := reloaded.GetWorkflow(ctx, wf.ID)
		assert.NoError(t, err)
		assert.Equal(t, wf.ID, got.ID)
		assert.Equal(t, "Orders", got.Name)
		assert.NotNil(t, got.Steps[1].Requirements)
		assert.True(t, got.Steps[1].Requirements.IsComplete)
	})

	t.Run("MissingFileStartsEmpty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nope", "workflows.yaml")
		store, err := NewYAMLStore(path)
		require.NoError(t, err)

		all, err := store.ListWorkflows(ctx, Filter{})
		assert.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("DeleteRemovesFromSnapshot", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workflows.yaml")
		store, err := NewYAMLStore(path)
		require.NoError(t, err)

		wf, err := store.CreateWorkflow(ctx, newSampleWorkflow("Orders"))
		require.NoError(t, err)
		require.NoError(t, store.DeleteWorkflow(ctx, wf.ID))

		reloaded, err := NewYAMLStore(path)
		require.NoError(t, err)
		_, err = reloaded.GetWorkflow(ctx, wf.ID)
		assert.ErrorIs(t, err, ErrWorkflowNotFound)
	})

	t.Run("PersistFailureRollsBack", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workflows.yaml")
		store, err := NewYAMLStore(path)
		require.NoError(t, err)

		wf, err := store.CreateWorkflow(ctx, newSampleWorkflow("Orders"))
		require.NoError(t, err)

		// Replace the snapshot target with a directory so every
		// subsequent persist fails at the rename.
		require.NoError(t, os.Remove(path))
		require.NoError(t, os.Mkdir(path, 0o755))

		require.Error(t, store.SetStatus(ctx, wf.ID, types.StatusActive))
		got, err := store.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusDraft, got.Status)

		req := types.Requirements{IsComplete: true, Text: "triage carefully"}
		require.Error(t, store.UpdateStepRequirements(ctx, wf.ID, wf.Steps[1].ID, req))
		got, err = store.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Steps[1].Requirements)

		require.Error(t, store.DeleteWorkflow(ctx, wf.ID))
		_, err = store.GetWorkflow(ctx, wf.ID)
		assert.NoError(t, err)
	})

	t.Run("CorruptFileFailsLoad", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workflows.yaml")
		require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))

		_, err := NewYAMLStore(path)
		assert.Error(t, err)
	})

	t.Run("StatusFilterAfterReload", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workflows.yaml")
		store, err := NewYAMLStore(path)
		require.NoError(t, err)

		first, err := store.CreateWorkflow(ctx, newSampleWorkflow("First"))
		require.NoError(t, err)
		_, err = store.CreateWorkflow(ctx, newSampleWorkflow("Second"))
		require.NoError(t, err)
		require.NoError(t, store.SetStatus(ctx, first.ID, types.StatusActive))

		reloaded, err := NewYAMLStore(path)
		require.NoError(t, err)
		active, err := reloaded.ListWorkflows(ctx, Filter{Status: types.StatusActive})
		assert.NoError(t, err)
		assert.Len(t, active, 1)
		assert.Equal(t, first.ID, active[0].ID)
	})
}
