package workflow

import "errors"

// Standard error definitions
var (
	ErrEmptyInput     = errors.New("input is empty")
	ErrEmptyResponse  = errors.New("edit call returned an empty response")
	ErrNotDraft       = errors.New("workflow is not in draft status")
	ErrReviewNotFound = errors.New("review item not found")
)

// Transcript messages. The assistant's failure reply is deliberately
// generic; the failing call's details go to the log, not the operator.
const (
	blueprintSummaryFormat = "Blueprint updated: %d allowed actions, %d restrictions."
	genericErrorMessage    = "Something went wrong processing your request. Please try again."
	defaultOutcome         = "Workflow completed"
	needsAttentionFormat   = "%s needs attention"
)
