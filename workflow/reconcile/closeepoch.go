package reconcile

import (
	"context"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/chain"
)

// CloseEpochReconciler implements the three-rule ladder of §4.4.3.
type CloseEpochReconciler struct {
	Chain      chain.Adapter
	EpochState chain.EpochClosedPredicate
}

func (r *CloseEpochReconciler) Reconcile(ctx context.Context, rec *workflow.WorkflowRecord) (Action, error) {
	in, err := workflow.DecodeCloseEpochInput(rec.Input)
	if err != nil {
		return Action{}, err
	}
	p := rec.Progress

	// Rule (a): epoch already closed -> COMPLETE.
	closed, err := r.EpochState.IsEpochClosed(ctx, in.Studio, in.Epoch)
	if err != nil {
		return Action{}, err
	}
	if closed {
		return complete(), nil
	}

	// Rule (b): pending close tx.
	if closeHash, ok := progString(p, KeyCloseTxHash); ok && !progBool(p, KeyCloseConfirmed) {
		receipt, err := r.Chain.FetchTxReceipt(ctx, closeHash)
		if err != nil {
			return Action{}, err
		}
		switch receipt.Status {
		case chain.StatusConfirmed:
			stillClosed, err := r.EpochState.IsEpochClosed(ctx, in.Studio, in.Epoch)
			if err != nil {
				return Action{}, err
			}
			if stillClosed {
				return complete(), nil
			}
			return fail("tx confirmed but epoch not closed"), nil
		case chain.StatusReverted:
			if workflow.IsIdempotentSuccess(receipt.RevertReason) {
				return complete(), nil
			}
			return fail(receipt.RevertReason), nil
		case chain.StatusPending:
			return noChange(), nil
		case chain.StatusNotFound:
			return updateProgress(map[string]any{KeyCloseTxHash: ""}), nil
		}
	}

	// Rule (c).
	return noChange(), nil
}
