package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/flowdeck-io/flowdeck/storage"
	"github.com/flowdeck-io/flowdeck/types"
)

// NegotiateFunc is the external blueprint-synthesis call. It receives the
// step under negotiation and the full ordered transcript, including the
// user turn that triggered it, and returns updated requirements text and
// a blueprint.
type NegotiateFunc func(ctx context.Context, step types.Step, transcript []types.ConversationMessage) (string, *types.Blueprint, error)

// NegotiationSession is the per-step conversational loop that turns a
// transcript into a requirements document and a blueprint. At most one
// negotiation call is outstanding at a time; a turn sent while the
// session awaits a response is dropped without error.
type NegotiationSession struct {
	store      storage.Store
	negotiate  NegotiateFunc
	logger     *slog.Logger
	workflowID string
	stepID     string

	mu           sync.Mutex
	busy         bool
	transcript   []types.ConversationMessage
	requirements string
	blueprint    *types.Blueprint
	integrations map[string]bool
}

// NewNegotiationSession opens a negotiation session for one step,
// resuming from any requirements the step already carries.
func NewNegotiationSession(ctx context.Context, store storage.Store, negotiate NegotiateFunc, workflowID, stepID string, logger *slog.Logger) (*NegotiationSession, error) {
	if negotiate == nil {
		return nil, errors.New("negotiate call is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	step, err := findStep(ctx, store, workflowID, stepID)
	if err != nil {
		return nil, err
	}

	s := &NegotiationSession{
		store:        store,
		negotiate:    negotiate,
		logger:       logger.With("workflow_id", workflowID, "step_id", stepID),
		workflowID:   workflowID,
		stepID:       stepID,
		integrations: make(map[string]bool),
	}
	if step.Requirements != nil {
		req := step.Requirements.Clone()
		s.transcript = req.ChatHistory
		s.requirements = req.Text
		s.blueprint = req.Blueprint
		if req.Integrations != nil {
			s.integrations = req.Integrations
		}
	}
	return s, nil
}

// Send appends a user turn and runs one negotiation round trip. Blank
// input is rejected before any external call. A failed call appends a
// generic error reply and preserves the last good requirements state.
// While a call is outstanding, further sends are silent no-ops.
func (s *NegotiationSession) Send(ctx context.Context, text string, attachments ...types.Attachment) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.logger.Debug("turn dropped, negotiation call outstanding")
		return nil
	}
	s.busy = true
	s.mu.Unlock()

	step, err := findStep(ctx, s.store, s.workflowID, s.stepID)
	if err != nil {
		s.setIdle()
		return err
	}

	s.mu.Lock()
	s.transcript = append(s.transcript, types.ConversationMessage{
		ID:          ulid.Make().String(),
		Sender:      types.SenderUser,
		Text:        text,
		Timestamp:   time.Now().UnixMilli(),
		Attachments: attachments,
	})
	transcript := append([]types.ConversationMessage(nil), s.transcript...)
	s.mu.Unlock()

	// Suspension point: the store stays unlocked while the call runs.
	reqText, blueprint, err := s.negotiate(ctx, step, transcript)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.busy = false }()

	if err != nil {
		s.logger.Warn("negotiation call failed", "error", err)
		s.transcript = append(s.transcript, types.ConversationMessage{
			ID:        ulid.Make().String(),
			Sender:    types.SenderAssistant,
			Text:      genericErrorMessage,
			Timestamp: time.Now().UnixMilli(),
		})
		return nil
	}

	s.requirements = reqText
	s.blueprint = blueprint

	var allowed, restricted int
	if blueprint != nil {
		allowed = len(blueprint.AllowedActions)
		restricted = len(blueprint.Restrictions)
	}
	s.transcript = append(s.transcript, types.ConversationMessage{
		ID:        ulid.Make().String(),
		Sender:    types.SenderAssistant,
		Text:      fmt.Sprintf(blueprintSummaryFormat, allowed, restricted),
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

// MarkComplete persists the negotiated requirements with the complete
// flag set and returns the stored requirements. Completing with no
// blueprint is permitted here and persists empty lists; callers that
// want to forbid it must gate before calling.
func (s *NegotiationSession) MarkComplete(ctx context.Context) (types.Requirements, error) {
	s.mu.Lock()
	blueprint := types.Blueprint{AllowedActions: []string{}, Restrictions: []string{}}
	if s.blueprint != nil {
		blueprint = s.blueprint.Clone()
	}
	req := types.Requirements{
		IsComplete:   true,
		Text:         s.requirements,
		ChatHistory:  append([]types.ConversationMessage(nil), s.transcript...),
		Blueprint:    &blueprint,
		Integrations: make(map[string]bool, len(s.integrations)),
	}
	for k, v := range s.integrations {
		req.Integrations[k] = v
	}
	s.mu.Unlock()

	if err := s.store.UpdateStepRequirements(ctx, s.workflowID, s.stepID, req); err != nil {
		return types.Requirements{}, err
	}
	s.logger.Info("step requirements marked complete",
		"allowed_actions", len(blueprint.AllowedActions),
		"restrictions", len(blueprint.Restrictions))
	return req, nil
}

// SetIntegration toggles an integration flag, e.g. mailbox linkage.
func (s *NegotiationSession) SetIntegration(name string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrations[name] = enabled
}

// Transcript returns a copy of the conversation so far.
func (s *NegotiationSession) Transcript() []types.ConversationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ConversationMessage(nil), s.transcript...)
}

// RequirementsText returns the last good requirements text.
func (s *NegotiationSession) RequirementsText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requirements
}

// Blueprint returns a copy of the last good blueprint, or nil if none
// has been produced yet.
func (s *NegotiationSession) Blueprint() *types.Blueprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blueprint == nil {
		return nil
	}
	b := s.blueprint.Clone()
	return &b
}

// Busy reports whether a negotiation call is outstanding.
func (s *NegotiationSession) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *NegotiationSession) setIdle() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// findStep resolves a step through the store.
func findStep(ctx context.Context, store storage.Store, workflowID, stepID string) (types.Step, error) {
	wf, err := store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return types.Step{}, err
	}
	for _, step := range wf.Steps {
		if step.ID == stepID {
			return step, nil
		}
	}
	return types.Step{}, fmt.Errorf("%w: workflow=%s step=%s", storage.ErrStepNotFound, workflowID, stepID)
}
