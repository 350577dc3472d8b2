package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/flowdeck-io/flowdeck/rules"
	"github.com/flowdeck-io/flowdeck/storage"
	"github.com/flowdeck-io/flowdeck/types"
)

// Readiness is the result of evaluating whether a workflow may go live.
// When Ready is false, Errors carries one entry per incomplete step, in
// step order.
type Readiness struct {
	Ready  bool     `json:"ready"`
	Errors []string `json:"errors,omitempty"`
}

// Gate decides draft → active eligibility. Which steps are exempt from
// configuration is a policy expression evaluated per step.
type Gate struct {
	store      storage.Store
	evaluator  rules.Evaluator
	exemptExpr string
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithExemptPolicy overrides the default step exemption expression.
func WithExemptPolicy(expression string) GateOption {
	return func(g *Gate) {
		g.exemptExpr = expression
	}
}

// NewGate creates a Gate over the given store. A nil evaluator falls
// back to the expr-based implementation.
func NewGate(store storage.Store, evaluator rules.Evaluator, options ...GateOption) *Gate {
	if evaluator == nil {
		evaluator = rules.NewExprEvaluator()
	}
	g := &Gate{
		store:      store,
		evaluator:  evaluator,
		exemptExpr: rules.ExemptStepPolicy,
	}
	for _, option := range options {
		option(g)
	}
	return g
}

// Evaluate reports whether the workflow is ready for activation. It has
// no side effects: identical input always yields an identical result.
func (g *Gate) Evaluate(wf types.Workflow) (Readiness, error) {
	steps := make([]types.Step, len(wf.Steps))
	copy(steps, wf.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	readiness := Readiness{Ready: true}
	for _, step := range steps {
		exempt, err := g.evaluator.Evaluate(g.exemptExpr, rules.StepEnv(step))
		if err != nil {
			return Readiness{}, fmt.Errorf("failed to evaluate exemption policy for step %s: %w", step.ID, err)
		}
		if exempt {
			continue
		}
		if step.Requirements == nil || !step.Requirements.IsComplete {
			readiness.Ready = false
			readiness.Errors = append(readiness.Errors, fmt.Sprintf(needsAttentionFormat, step.Label))
		}
	}
	return readiness, nil
}

// Activate flips the workflow from draft to active if every configurable
// step has complete requirements. When the workflow is not ready, the
// status is left untouched and the per-step errors are returned; the
// gate never partially activates.
func (g *Gate) Activate(ctx context.Context, workflowID string) (Readiness, error) {
	wf, err := g.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return Readiness{}, err
	}
	if wf.Status != types.StatusDraft {
		return Readiness{}, fmt.Errorf("%w: id=%s status=%s", ErrNotDraft, wf.ID, wf.Status)
	}

	readiness, err := g.Evaluate(wf)
	if err != nil {
		return Readiness{}, err
	}
	if !readiness.Ready {
		return readiness, nil
	}

	if err := g.store.SetStatus(ctx, wf.ID, types.StatusActive); err != nil {
		return Readiness{}, err
	}
	return readiness, nil
}
