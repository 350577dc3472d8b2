package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowdeck-io/flowdeck/storage"
	"github.com/flowdeck-io/flowdeck/types"
)

func newEditFixture(t *testing.T, edit EditFunc) (*EditSession, storage.Store, types.Workflow) {
	t.Helper()
	store := storage.NewMemoryStore()
	wf := createTestWorkflow(t, store,
		types.Step{Label: "New email", Type: types.StepTrigger},
		types.Step{Label: "Triage", Type: types.StepAction},
	)
	session, err := NewEditSession(store, edit, wf.ID, nil)
	require.NoError(t, err)
	return session, store, wf
}

func TestEditSend(t *testing.T) {
	ctx := context.Background()

	t.Run("ResponseWithoutUpdate", func(t *testing.T) {
		session, store, wf := newEditFixture(t, func(ctx context.Context, wf types.Workflow, instruction string, history []types.ConversationMessage) (string, *types.Workflow, error) {
			return "Nothing to change.", nil, nil
		})

		assert.NoError(t, session.Send(ctx, "do nothing"))

		transcript := session.Transcript()
		require.Len(t, transcript, 2)
		assert.Equal(t, "Nothing to change.", transcript[1].Text)

		got, err := store.GetWorkflow(ctx, wf.ID)
		assert.NoError(t, err)
		assert.Equal(t, wf.Name, got.Name)
	})

	t.Run("UpdateAppliedAtomically", func(t *testing.T) {
		session, store, wf := newEditFixture(t, func(ctx context.Context, current types.Workflow, instruction string, history []types.ConversationMessage) (string, *types.Workflow, error) {
			updated := current.Clone()
			updated.Name = "Inbox Autopilot v2"
			updated.Description = "rewritten by chat"
			updated.Steps = append(updated.Steps, types.Step{Label: "Archive", Type: types.StepAction})
			return "Added an archive step.", &updated, nil
		})

		assert.NoError(t, session.Send(ctx, "add an archive step"))

		got, err := store.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, "Inbox Autopilot v2", got.Name)
		assert.Equal(t, "rewritten by chat", got.Description)
		assert.Len(t, got.Steps, 3)
		// Status is untouched by an edit.
		assert.Equal(t, types.StatusDraft, got.Status)

		transcript := session.Transcript()
		require.Len(t, transcript, 2)
		assert.Equal(t, "Added an archive step.", transcript[1].Text)
	})

	t.Run("HistoryExcludesCurrentInstruction", func(t *testing.T) {
		var histories [][]types.ConversationMessage
		session, _, _ := newEditFixture(t, func(ctx context.Context, current types.Workflow, instruction string, history []types.ConversationMessage) (string, *types.Workflow, error) {
			histories = append(histories, history)
			return "ok", nil, nil
		})

		require.NoError(t, session.Send(ctx, "rename it"))
		require.NoError(t, session.Send(ctx, "now add a step"))

		// The instruction travels only as the instruction argument; the
		// first turn sees an empty prior transcript.
		require.Len(t, histories, 2)
		assert.Empty(t, histories[0])
		require.Len(t, histories[1], 2)
		assert.Equal(t, "rename it", histories[1][0].Text)
		assert.Equal(t, "ok", histories[1][1].Text)
	})

	t.Run("EmptyResponseIsFailure", func(t *testing.T) {
		session, store, wf := newEditFixture(t, func(ctx context.Context, current types.Workflow, instruction string, history []types.ConversationMessage) (string, *types.Workflow, error) {
			updated := current.Clone()
			updated.Name = "should not apply"
			return "   ", &updated, nil
		})

		assert.NoError(t, session.Send(ctx, "rename"))

		// The workflow update accompanying a blank response is discarded.
		got, err := store.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, wf.Name, got.Name)

		transcript := session.Transcript()
		require.Len(t, transcript, 2)
		assert.Equal(t, genericErrorMessage, transcript[1].Text)
	})

	t.Run("CallFailureAppendsGenericError", func(t *testing.T) {
		session, store, wf := newEditFixture(t, func(ctx context.Context, current types.Workflow, instruction string, history []types.ConversationMessage) (string, *types.Workflow, error) {
			return "", nil, errors.New("model unavailable")
		})

		assert.NoError(t, session.Send(ctx, "rename"))

		got, err := store.GetWorkflow(ctx, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, wf.Name, got.Name)

		transcript := session.Transcript()
		require.Len(t, transcript, 2)
		assert.Equal(t, genericErrorMessage, transcript[1].Text)
		assert.False(t, session.Busy())
	})

	t.Run("EmptyInput", func(t *testing.T) {
		called := false
		session, _, _ := newEditFixture(t, func(ctx context.Context, current types.Workflow, instruction string, history []types.ConversationMessage) (string, *types.Workflow, error) {
			called = true
			return "ok", nil, nil
		})

		assert.ErrorIs(t, session.Send(ctx, ""), ErrEmptyInput)
		assert.False(t, called)
		assert.Empty(t, session.Transcript())
	})

	t.Run("InstructionWhileBusyIsDropped", func(t *testing.T) {
		release := make(chan struct{})
		entered := make(chan struct{})
		session, _, _ := newEditFixture(t, func(ctx context.Context, current types.Workflow, instruction string, history []types.ConversationMessage) (string, *types.Workflow, error) {
			close(entered)
			<-release
			return "done", nil, nil
		})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = session.Send(ctx, "first")
		}()
		<-entered

		assert.NoError(t, session.Send(ctx, "second"))
		assert.Len(t, session.Transcript(), 1)

		close(release)
		wg.Wait()
		assert.Len(t, session.Transcript(), 2)
	})

	t.Run("UnknownWorkflow", func(t *testing.T) {
		store := storage.NewMemoryStore()
		session, err := NewEditSession(store, func(ctx context.Context, current types.Workflow, instruction string, history []types.ConversationMessage) (string, *types.Workflow, error) {
			t.Fatal("edit call must not run for an unknown workflow")
			return "", nil, nil
		}, "missing", nil)
		require.NoError(t, err)
		assert.ErrorIs(t, session.Send(ctx, "rename"), storage.ErrWorkflowNotFound)
	})

	t.Run("NilEditCallRejected", func(t *testing.T) {
		session, err := NewEditSession(storage.NewMemoryStore(), nil, "wf", nil)
		assert.Error(t, err)
		assert.Nil(t, session)
	})
}
