package reconcile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/chain"
)

func newCloseEpochRecord(t *testing.T, step string, progress map[string]any) *workflow.WorkflowRecord {
	t.Helper()
	input, err := json.Marshal(workflow.CloseEpochInput{Studio: "studio-a", Epoch: 3, Signer: "0xadmin"})
	if err != nil {
		t.Fatalf("failed to marshal input: %v", err)
	}
	if progress == nil {
		progress = map[string]any{}
	}
	return &workflow.WorkflowRecord{ID: "close-1", Type: workflow.CloseEpoch, Step: step, Input: input, Progress: progress, Signer: "0xadmin"}
}

func TestCloseEpochReconciler_RuleA_AlreadyClosed(t *testing.T) {
	chainAdapter := chain.NewMockAdapter()
	chainAdapter.SetPredicate(true, "epoch_closed", "studio-a", "3")

	r := &CloseEpochReconciler{Chain: chainAdapter, EpochState: chainAdapter}
	action, err := r.Reconcile(context.Background(), newCloseEpochRecord(t, StepAwaitClose, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Kind != Complete {
		t.Fatalf("expected Complete, got %v", action.Kind)
	}
}

func TestCloseEpochReconciler_RuleB_ConfirmedButNotClosedFails(t *testing.T) {
	chainAdapter := chain.NewMockAdapter()
	chainAdapter.SetReceipt("0xclosetx", chain.Receipt{Status: chain.StatusConfirmed})
	// epoch_closed predicate left false, simulating a stale/mismatched state.

	r := &CloseEpochReconciler{Chain: chainAdapter, EpochState: chainAdapter}
	rec := newCloseEpochRecord(t, StepAwaitClose, map[string]any{KeyCloseTxHash: "0xclosetx"})
	action, err := r.Reconcile(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Kind != Fail {
		t.Fatalf("expected Fail, got %v", action.Kind)
	}
}

func TestCloseEpochReconciler_RuleB_RevertedIdempotentSuccess(t *testing.T) {
	chainAdapter := chain.NewMockAdapter()
	chainAdapter.SetReceipt("0xclosetx", chain.Receipt{Status: chain.StatusReverted, RevertReason: "epoch already closed"})

	r := &CloseEpochReconciler{Chain: chainAdapter, EpochState: chainAdapter}
	rec := newCloseEpochRecord(t, StepAwaitClose, map[string]any{KeyCloseTxHash: "0xclosetx"})
	action, err := r.Reconcile(context.Background(), rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Kind != Complete {
		t.Fatalf("expected Complete on idempotent-success revert, got %v", action.Kind)
	}
}

func TestCloseEpochReconciler_RuleC_DefaultNoChange(t *testing.T) {
	chainAdapter := chain.NewMockAdapter()
	r := &CloseEpochReconciler{Chain: chainAdapter, EpochState: chainAdapter}
	action, err := r.Reconcile(context.Background(), newCloseEpochRecord(t, StepCheck, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if action.Kind != NoChange {
		t.Fatalf("expected NoChange, got %v", action.Kind)
	}
}
