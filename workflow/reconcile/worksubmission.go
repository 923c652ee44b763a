package reconcile

import (
	"context"
	"time"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/blob"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/chain"
)

// WorkSubmissionReconciler implements the six-rule ladder of §4.4.1.
type WorkSubmissionReconciler struct {
	Chain     chain.Adapter
	Primary   chain.PrimaryLedgerPredicate
	Secondary chain.SecondaryRegistrationPredicate
	Storage   blob.Adapter
}

// Reconcile applies the WorkSubmission rule ladder in strict priority order.
func (r *WorkSubmissionReconciler) Reconcile(ctx context.Context, rec *workflow.WorkflowRecord) (Action, error) {
	in, err := workflow.DecodeWorkSubmissionInput(rec.Input)
	if err != nil {
		return Action{}, err
	}
	p := rec.Progress

	// Rule 1: secondary registration already holds -> COMPLETE.
	registered, err := r.Secondary.IsWorkRegistered(ctx, in.Studio, in.Epoch, in.DataHash)
	if err != nil {
		return Action{}, err
	}
	if registered {
		return complete(), nil
	}

	// Rule 2: pending registration tx.
	if registerHash, ok := progString(p, KeyRegisterTxHash); ok && !progBool(p, KeyRegisterConfirmed) {
		receipt, err := r.Chain.FetchTxReceipt(ctx, registerHash)
		if err != nil {
			return Action{}, err
		}
		switch receipt.Status {
		case chain.StatusConfirmed:
			stillRegistered, err := r.Secondary.IsWorkRegistered(ctx, in.Studio, in.Epoch, in.DataHash)
			if err != nil {
				return Action{}, err
			}
			if stillRegistered {
				return complete(), nil
			}
			return fail("tx confirmed but registration not found"), nil
		case chain.StatusReverted:
			if workflow.IsIdempotentSuccess(receipt.RevertReason) {
				return complete(), nil
			}
			return fail(receipt.RevertReason), nil
		case chain.StatusPending:
			return noChange(), nil
		case chain.StatusNotFound:
			return updateProgress(map[string]any{KeyRegisterTxHash: ""}), nil
		}
	}

	// Rule 3: primary predicate holds and we're still at submit/confirm ->
	// advance straight to registration.
	if rec.Step == StepSubmitOnchain || rec.Step == StepAwaitOnchain {
		primary, err := r.Primary.WorkExists(ctx, in.Studio, in.DataHash)
		if err != nil {
			return Action{}, err
		}
		if primary {
			return advanceToStep(StepRegister, map[string]any{
				KeyOnchainConfirmed: true,
				KeyConfirmedAt:      time.Now().UnixMilli(),
			}), nil
		}
	}

	// Rule 4: pending primary-submit tx.
	if onchainHash, ok := progString(p, KeyOnchainTxHash); ok && !progBool(p, KeyOnchainConfirmed) {
		receipt, err := r.Chain.FetchTxReceipt(ctx, onchainHash)
		if err != nil {
			return Action{}, err
		}
		switch receipt.Status {
		case chain.StatusConfirmed:
			primary, err := r.Primary.WorkExists(ctx, in.Studio, in.DataHash)
			if err != nil {
				return Action{}, err
			}
			if !primary {
				return fail("tx confirmed but work not found"), nil
			}
			updates := map[string]any{KeyOnchainConfirmed: true}
			if receipt.BlockNumber != nil {
				updates[KeyOnchainBlock] = *receipt.BlockNumber
			}
			return advanceToStep(StepRegister, updates), nil
		case chain.StatusReverted:
			return fail(receipt.RevertReason), nil
		case chain.StatusPending:
			return noChange(), nil
		case chain.StatusNotFound:
			return clearTxHashAndRetry(KeyOnchainTxHash), nil
		}
	}

	// Rule 5: pending storage confirmation.
	if storageID, ok := progString(p, KeyStorageID); ok && !progBool(p, KeyStorageConfirmed) {
		status, err := r.Storage.Status(ctx, storageID)
		if err != nil {
			return Action{}, err
		}
		if status == blob.StatusConfirmed {
			return updateProgress(map[string]any{KeyStorageConfirmed: true}), nil
		}
		return noChange(), nil
	}

	// Rule 6.
	return noChange(), nil
}
