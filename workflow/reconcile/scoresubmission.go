package reconcile

import (
	"context"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/chain"
)

// ScoreSubmissionReconciler implements the seven-rule ladder of §4.4.2: it
// is the WorkSubmission ladder's analog, keyed on validator registration
// instead of work registration, and branching on mode (direct vs
// commit_reveal) for the reveal/commit/direct-score rules.
type ScoreSubmissionReconciler struct {
	Chain             chain.Adapter
	ValidatorRegistry chain.ValidatorRegistrationPredicate
	CommitReveal      chain.CommitRevealPredicate
	DirectScore       chain.DirectScorePredicate
}

func (r *ScoreSubmissionReconciler) Reconcile(ctx context.Context, rec *workflow.WorkflowRecord) (Action, error) {
	in, err := workflow.DecodeScoreSubmissionInput(rec.Input)
	if err != nil {
		return Action{}, err
	}
	p := rec.Progress

	// Rule 1: validator already registered -> COMPLETE.
	registered, err := r.ValidatorRegistry.IsValidatorRegistered(ctx, in.Studio, in.Epoch, in.ValidatorAddress)
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
		action, matched, err := classifyRegistrationReceipt(receipt, func() (bool, error) {
			return r.ValidatorRegistry.IsValidatorRegistered(ctx, in.Studio, in.Epoch, in.ValidatorAddress)
		}, KeyRegisterTxHash)
		if err != nil {
			return Action{}, err
		}
		if matched {
			return action, nil
		}
	}

	if in.Mode == workflow.ScoreModeCommitReveal {
		// Rule 3: reveal predicate holds, currently at reveal/await_reveal ->
		// advance to register.
		if rec.Step == StepReveal || rec.Step == StepAwaitReveal {
			revealed, err := r.CommitReveal.RevealExists(ctx, in.Studio, in.DataHash, in.ValidatorAddress)
			if err != nil {
				return Action{}, err
			}
			if revealed {
				return advanceToStep(StepRegisterValidator, map[string]any{KeyRevealConfirmed: true}), nil
			}
		}

		// Rule 4: pending reveal tx.
		if revealHash, ok := progString(p, KeyRevealTxHash); ok && !progBool(p, KeyRevealConfirmed) {
			receipt, err := r.Chain.FetchTxReceipt(ctx, revealHash)
			if err != nil {
				return Action{}, err
			}
			action, matched, err := classifyStageReceipt(receipt, func() (bool, error) {
				return r.CommitReveal.RevealExists(ctx, in.Studio, in.DataHash, in.ValidatorAddress)
			}, StepRegisterValidator, KeyRevealTxHash, KeyRevealConfirmed, KeyRevealBlock)
			if err != nil {
				return Action{}, err
			}
			if matched {
				return action, nil
			}
		}

		// Rule 5: commit predicate holds, currently at commit/await_commit ->
		// advance to reveal.
		if rec.Step == StepCommit || rec.Step == StepAwaitCommit {
			committed, err := r.CommitReveal.CommitExists(ctx, in.Studio, in.DataHash, in.ValidatorAddress)
			if err != nil {
				return Action{}, err
			}
			if committed {
				return advanceToStep(StepReveal, map[string]any{KeyCommitConfirmed: true}), nil
			}
		}

		// Rule 6: pending commit tx.
		if commitHash, ok := progString(p, KeyCommitTxHash); ok && !progBool(p, KeyCommitConfirmed) {
			receipt, err := r.Chain.FetchTxReceipt(ctx, commitHash)
			if err != nil {
				return Action{}, err
			}
			action, matched, err := classifyStageReceipt(receipt, func() (bool, error) {
				return r.CommitReveal.CommitExists(ctx, in.Studio, in.DataHash, in.ValidatorAddress)
			}, StepReveal, KeyCommitTxHash, KeyCommitConfirmed, KeyCommitBlock)
			if err != nil {
				return Action{}, err
			}
			if matched {
				return action, nil
			}
		}
	} else {
		// Rule 7: direct-score existence, currently at submit_score/await_score
		// -> advance to register.
		if rec.Step == StepSubmitScore || rec.Step == StepAwaitScore {
			exists, err := r.DirectScore.ScoreExists(ctx, in.Studio, in.DataHash, in.WorkerAddress)
			if err != nil {
				return Action{}, err
			}
			if exists {
				return advanceToStep(StepRegisterValidator, map[string]any{KeyScoreConfirmed: true}), nil
			}
		}

		if scoreHash, ok := progString(p, KeyScoreTxHash); ok && !progBool(p, KeyScoreConfirmed) {
			receipt, err := r.Chain.FetchTxReceipt(ctx, scoreHash)
			if err != nil {
				return Action{}, err
			}
			action, matched, err := classifyStageReceipt(receipt, func() (bool, error) {
				return r.DirectScore.ScoreExists(ctx, in.Studio, in.DataHash, in.WorkerAddress)
			}, StepRegisterValidator, KeyScoreTxHash, KeyScoreConfirmed, KeyScoreBlock)
			if err != nil {
				return Action{}, err
			}
			if matched {
				return action, nil
			}
		}
	}

	return noChange(), nil
}

// classifyRegistrationReceipt implements the rule-2-shaped pattern shared by
// every registration-like tx check: confirmed re-checks the predicate
// (FAIL if now false, else COMPLETE); reverted with an idempotent-success
// reason is COMPLETE, otherwise FAIL; pending is NO_CHANGE; not_found clears
// the tx hash via UPDATE_PROGRESS (not a full retry-reset). A recheck error
// is propagated to the caller rather than swallowed into NO_CHANGE.
func classifyRegistrationReceipt(receipt chain.Receipt, recheck func() (bool, error), txHashKey string) (Action, bool, error) {
	switch receipt.Status {
	case chain.StatusConfirmed:
		ok, err := recheck()
		if err != nil {
			return Action{}, false, err
		}
		if ok {
			return complete(), true, nil
		}
		return fail("tx confirmed but registration not found"), true, nil
	case chain.StatusReverted:
		if workflow.IsIdempotentSuccess(receipt.RevertReason) {
			return complete(), true, nil
		}
		return fail(receipt.RevertReason), true, nil
	case chain.StatusPending:
		return noChange(), true, nil
	case chain.StatusNotFound:
		return updateProgress(map[string]any{txHashKey: ""}), true, nil
	}
	return Action{}, false, nil
}

// classifyStageReceipt implements the rule-4/6-shaped pattern for an
// intermediate (non-registration) stage tx: confirmed double-checks the
// predicate and advances on success, FAILs on a predicate mismatch;
// reverted FAILs; pending is NO_CHANGE; not_found clears and resets
// attempts via CLEAR_TX_HASH_AND_RETRY. A recheck error is propagated to
// the caller rather than swallowed into NO_CHANGE.
func classifyStageReceipt(receipt chain.Receipt, recheck func() (bool, error), nextStep, txHashKey, confirmedKey, blockKey string) (Action, bool, error) {
	switch receipt.Status {
	case chain.StatusConfirmed:
		ok, err := recheck()
		if err != nil {
			return Action{}, false, err
		}
		if !ok {
			return fail("tx confirmed but on-chain state not found"), true, nil
		}
		updates := map[string]any{confirmedKey: true}
		if receipt.BlockNumber != nil {
			updates[blockKey] = *receipt.BlockNumber
		}
		return advanceToStep(nextStep, updates), true, nil
	case chain.StatusReverted:
		return fail(receipt.RevertReason), true, nil
	case chain.StatusPending:
		return noChange(), true, nil
	case chain.StatusNotFound:
		return clearTxHashAndRetry(txHashKey), true, nil
	}
	return Action{}, false, nil
}
