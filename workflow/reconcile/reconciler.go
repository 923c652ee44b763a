package reconcile

import (
	"context"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow"
)

// Reconciler computes an Action for a single record. It MUST make no
// mutating adapter calls -- only reads (receipt peeks, predicate checks,
// storage status checks).
type Reconciler interface {
	Reconcile(ctx context.Context, rec *workflow.WorkflowRecord) (Action, error)
}

// Registry dispatches to a Reconciler by workflow type, per §4.4's "Dispatch
// is by workflow type."
type Registry struct {
	byType map[workflow.WorkflowType]Reconciler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[workflow.WorkflowType]Reconciler)}
}

// Register associates a Reconciler with a WorkflowType.
func (r *Registry) Register(t workflow.WorkflowType, rec Reconciler) {
	r.byType[t] = rec
}

// Reconcile dispatches rec to its type's Reconciler. A type with no
// registered Reconciler yields NO_CHANGE -- absence of any match is itself
// the default per §4.4.
func (r *Registry) Reconcile(ctx context.Context, rec *workflow.WorkflowRecord) (Action, error) {
	recr, ok := r.byType[rec.Type]
	if !ok {
		return noChange(), nil
	}
	return recr.Reconcile(ctx, rec)
}
