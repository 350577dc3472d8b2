package types

// Known review action types.
const (
	ActionEmailDraft = "email_draft"
	ActionDataChange = "data_change"
)

// ActionPayload is the payload of a review action, keyed by its type.
// Unknown types are carried as OpaquePayload instead of being narrowed.
type ActionPayload interface {
	ActionType() string
}

// ReviewAction describes the decision requested from an operator.
type ReviewAction struct {
	Type    string        `json:"type"`
	Payload ActionPayload `json:"payload,omitempty"`
}

// EmailDraft is the payload of an "email_draft" action.
type EmailDraft struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (EmailDraft) ActionType() string { return ActionEmailDraft }

// DataChange is the payload of a "data_change" action.
type DataChange struct {
	Entity string            `json:"entity"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (DataChange) ActionType() string { return ActionDataChange }

// OpaquePayload carries the raw payload of an action type this module
// does not know how to interpret.
type OpaquePayload struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

func (p OpaquePayload) ActionType() string { return p.Type }

// DecodeAction builds a ReviewAction from a type tag and a raw payload
// map, mapping known tags to their typed payloads.
func DecodeAction(actionType string, data map[string]interface{}) ReviewAction {
	str := func(key string) string {
		s, _ := data[key].(string)
		return s
	}

	switch actionType {
	case ActionEmailDraft:
		return ReviewAction{Type: actionType, Payload: EmailDraft{
			To:      str("to"),
			Subject: str("subject"),
			Body:    str("body"),
		}}
	case ActionDataChange:
		fields := make(map[string]string)
		if raw, ok := data["fields"].(map[string]interface{}); ok {
			for k, v := range raw {
				if s, ok := v.(string); ok {
					fields[k] = s
				}
			}
		}
		return ReviewAction{Type: actionType, Payload: DataChange{
			Entity: str("entity"),
			Fields: fields,
		}}
	default:
		return ReviewAction{Type: actionType, Payload: OpaquePayload{Type: actionType, Data: data}}
	}
}

// Control-room update kinds carried on the event channel.
const (
	UpdateWorkflowProgress = "workflow_update"
	UpdateReviewNeeded     = "review_needed"
	UpdateCompleted        = "completed"
)

// ControlRoomUpdate is a discrete, timestamped event emitted by external
// execution and consumed by the live-operations reconciler.
type ControlRoomUpdate struct {
	Type       string        `json:"type"`
	WorkflowID string        `json:"workflow_id,omitempty"`
	StepID     string        `json:"step_id,omitempty"`
	WorkerName string        `json:"worker_name,omitempty"`
	Outcome    string        `json:"outcome,omitempty"`
	Action     *ReviewAction `json:"action,omitempty"`
	Timestamp  int64         `json:"timestamp,omitempty"`
}
