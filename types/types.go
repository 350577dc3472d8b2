package types

// Workflow lifecycle statuses.
const (
	StatusDraft  = "draft"
	StatusActive = "active"
	StatusPaused = "paused"
)

// Step types.
const (
	StepTrigger  = "trigger"
	StepAction   = "action"
	StepDecision = "decision"
	StepEnd      = "end"
)

// Message senders.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Worker kinds and activity statuses.
const (
	WorkerKindAI    = "ai"
	WorkerKindHuman = "human"

	WorkerActive  = "active"
	WorkerIdle    = "idle"
	WorkerOffline = "offline"
)

// StandbyTopic is the sentinel topic assigned to a watcher whose worker
// has no workflow to watch.
const StandbyTopic = "standby"

// Workflow defines a multi-step automation workflow.
type Workflow struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
	Status      string `json:"status" yaml:"status"` // "draft", "active", "paused"
	CreatedAt   int64  `json:"created_at" yaml:"created_at"`
	UpdatedAt   int64  `json:"updated_at" yaml:"updated_at"`
}

// Step represents a single step in a workflow. Order defines a total
// order within the workflow; the store keeps order values distinct.
type Step struct {
	ID           string        `json:"id" yaml:"id"`
	Label        string        `json:"label" yaml:"label"`
	Type         string        `json:"type" yaml:"type"` // "trigger", "action", "decision", "end"
	Order        int           `json:"order" yaml:"order"`
	Assignee     *Assignment   `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Requirements *Requirements `json:"requirements,omitempty" yaml:"requirements,omitempty"`
}

// Assignment names the AI agent or human worker a step is delegated to.
type Assignment struct {
	Kind string `json:"kind" yaml:"kind"` // "ai" or "human"
	Name string `json:"name" yaml:"name"`
}

// Blueprint bounds what an assigned worker may autonomously do for a step.
type Blueprint struct {
	AllowedActions       []string `json:"allowed_actions" yaml:"allowed_actions"`
	Restrictions         []string `json:"restrictions" yaml:"restrictions"`
	OutstandingQuestions []string `json:"outstanding_questions,omitempty" yaml:"outstanding_questions,omitempty"`
}

// Requirements holds the negotiated configuration of a step. IsComplete
// is operator-set; a populated blueprint alone never implies completion.
type Requirements struct {
	IsComplete   bool                  `json:"is_complete" yaml:"is_complete"`
	Text         string                `json:"text" yaml:"text"`
	ChatHistory  []ConversationMessage `json:"chat_history,omitempty" yaml:"chat_history,omitempty"`
	Blueprint    *Blueprint            `json:"blueprint,omitempty" yaml:"blueprint,omitempty"`
	Integrations map[string]bool       `json:"integrations,omitempty" yaml:"integrations,omitempty"`
}

// ConversationMessage is one turn of a negotiation or edit transcript.
// Transcripts are append-only; insertion order is replayed verbatim to
// the assistant on every turn.
type ConversationMessage struct {
	ID          string       `json:"id" yaml:"id"`
	Sender      string       `json:"sender" yaml:"sender"` // "user" or "assistant"
	Text        string       `json:"text" yaml:"text"`
	Timestamp   int64        `json:"timestamp" yaml:"timestamp"`
	Attachments []Attachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// Attachment carries image or grid data alongside a message.
type Attachment struct {
	Kind string `json:"kind" yaml:"kind"` // "image", "grid"
	Name string `json:"name" yaml:"name"`
	Data string `json:"data,omitempty" yaml:"data,omitempty"`
}

// WorkerNode is a roster entry. It is owned by the roster source and is
// read-only to this module.
type WorkerNode struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`   // "ai" or "human"
	Status    string   `json:"status"` // "active", "idle", "offline"
	Workflows []string `json:"workflows,omitempty"`
}

// WatchItem is a derived dashboard row for a worker actively executing.
// It is reconstructed from roster and event inputs, never persisted.
type WatchItem struct {
	ID         uint64 `json:"id"`
	WorkerName string `json:"worker_name"`
	Topic      string `json:"topic"` // workflow ID or StandbyTopic
}

// ReviewItem is a pending human decision surfaced by execution.
type ReviewItem struct {
	ID         uint64       `json:"id"`
	WorkflowID string       `json:"workflow_id"`
	StepID     string       `json:"step_id,omitempty"`
	WorkerName string       `json:"worker_name"`
	Action     ReviewAction `json:"action"`
	CreatedAt  int64        `json:"created_at"`
}

// CompletedItem records a finished workflow run.
type CompletedItem struct {
	ID         uint64 `json:"id"`
	WorkflowID string `json:"workflow_id"`
	WorkerName string `json:"worker_name"`
	Outcome    string `json:"outcome"`
	CreatedAt  int64  `json:"created_at"`
}

// Clone returns a deep copy of the workflow so callers never alias the
// store's authoritative copy.
func (w Workflow) Clone() Workflow {
	out := w
	out.Steps = make([]Step, len(w.Steps))
	for i, s := range w.Steps {
		out.Steps[i] = s.Clone()
	}
	return out
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	if s.Assignee != nil {
		a := *s.Assignee
		out.Assignee = &a
	}
	if s.Requirements != nil {
		r := s.Requirements.Clone()
		out.Requirements = &r
	}
	return out
}

// Clone returns a deep copy of the requirements.
func (r Requirements) Clone() Requirements {
	out := r
	out.ChatHistory = append([]ConversationMessage(nil), r.ChatHistory...)
	if r.Blueprint != nil {
		b := r.Blueprint.Clone()
		out.Blueprint = &b
	}
	if r.Integrations != nil {
		out.Integrations = make(map[string]bool, len(r.Integrations))
		for k, v := range r.Integrations {
			out.Integrations[k] = v
		}
	}
	return out
}

// Clone returns a deep copy of the blueprint.
func (b Blueprint) Clone() Blueprint {
	return Blueprint{
		AllowedActions:       append([]string(nil), b.AllowedActions...),
		Restrictions:         append([]string(nil), b.Restrictions...),
		OutstandingQuestions: append([]string(nil), b.OutstandingQuestions...),
	}
}
