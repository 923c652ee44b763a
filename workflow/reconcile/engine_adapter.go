package reconcile

import (
	"context"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow"
)

// EngineAdapter adapts a Registry to workflow.Reconciler. The engine
// package can't import reconcile directly (reconcile already imports
// workflow for WorkflowRecord; the reverse import would cycle), so it
// declares its own structurally-equivalent ReconcileAction/Reconciler pair
// and this adapter translates into it.
//
// Kind values MUST stay positionally aligned with workflow's
// Reconcile*  constants; both enumerate the same six actions in the same
// order.
type EngineAdapter struct {
	Registry *Registry
}

func (a *EngineAdapter) Reconcile(ctx context.Context, rec *workflow.WorkflowRecord) (workflow.ReconcileAction, error) {
	action, err := a.Registry.Reconcile(ctx, rec)
	if err != nil {
		return workflow.ReconcileAction{}, err
	}
	return workflow.ReconcileAction{
		Kind:            int(action.Kind),
		Step:            action.Step,
		ProgressUpdates: action.ProgressUpdates,
		Reason:          action.Reason,
	}, nil
}
