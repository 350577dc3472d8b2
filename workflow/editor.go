package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/flowdeck-io/flowdeck/storage"
	"github.com/flowdeck-io/flowdeck/types"
)

// EditFunc is the external chat-driven workflow-editing call. It receives
// the current workflow, the user instruction and the prior transcript,
// and returns a response plus an optional rewritten workflow.
type EditFunc func(ctx context.Context, wf types.Workflow, instruction string, history []types.ConversationMessage) (string, *types.Workflow, error)

// EditSession is the single-turn conversational loop that can rewrite a
// workflow's steps in place. Updated workflows are applied only through
// a single atomic store replace; a blank response is a contract failure,
// not a valid no-op answer.
type EditSession struct {
	store      storage.Store
	edit       EditFunc
	logger     *slog.Logger
	workflowID string

	mu         sync.Mutex
	busy       bool
	transcript []types.ConversationMessage
}

// NewEditSession opens an edit session for one workflow.
func NewEditSession(store storage.Store, edit EditFunc, workflowID string, logger *slog.Logger) (*EditSession, error) {
	if edit == nil {
		return nil, errors.New("edit call is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EditSession{
		store:      store,
		edit:       edit,
		logger:     logger.With("workflow_id", workflowID),
		workflowID: workflowID,
	}, nil
}

// Send runs one edit round trip. Blank instructions are rejected before
// any external call; sends while a call is outstanding are silent
// no-ops. The response text is always appended to the transcript whether
// or not a workflow update accompanied it.
func (s *EditSession) Send(ctx context.Context, instruction string) error {
	if strings.TrimSpace(instruction) == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.logger.Debug("instruction dropped, edit call outstanding")
		return nil
	}
	s.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	wf, err := s.store.GetWorkflow(ctx, s.workflowID)
	if err != nil {
		return err
	}

	// The edit call receives the transcript as it stood before this
	// turn; the instruction itself travels only as the instruction
	// argument.
	s.mu.Lock()
	history := append([]types.ConversationMessage(nil), s.transcript...)
	s.transcript = append(s.transcript, types.ConversationMessage{
		ID:        ulid.Make().String(),
		Sender:    types.SenderUser,
		Text:      instruction,
		Timestamp: time.Now().UnixMilli(),
	})
	s.mu.Unlock()

	reply, updated, err := s.edit(ctx, wf, instruction, history)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		s.logger.Warn("edit call failed", "error", err)
		s.appendAssistant(genericErrorMessage)
		return nil
	}

	if updated != nil {
		replaced := updated.Clone()
		replaced.ID = s.workflowID
		if _, err := s.store.ReplaceWorkflow(ctx, replaced); err != nil {
			s.logger.Warn("failed to apply workflow update", "error", err)
			s.appendAssistant(genericErrorMessage)
			return nil
		}
		s.logger.Info("workflow rewritten by edit call", "steps", len(replaced.Steps))
	}

	s.appendAssistant(reply)
	return nil
}

func (s *EditSession) appendAssistant(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, types.ConversationMessage{
		ID:        ulid.Make().String(),
		Sender:    types.SenderAssistant,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Transcript returns a copy of the conversation so far.
func (s *EditSession) Transcript() []types.ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ConversationMessage(nil), s.transcript...)
}

// Busy reports whether an edit call is outstanding.
func (s *EditSession) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}
