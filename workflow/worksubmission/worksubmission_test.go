package worksubmission

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/blob"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/chain"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/reconcile"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/txqueue"
)

func newRecord(t *testing.T, step string, progress map[string]any) *workflow.WorkflowRecord {
	t.Helper()
	input, err := json.Marshal(workflow.WorkSubmissionInput{
		Studio:       "studio-a",
		Epoch:        1,
		AgentAddress: "0xagent",
		DataHash:     "0xdata",
		Evidence: []workflow.EvidencePackage{
			{AgentAddress: "0xagent", Kind: "inference", RefHash: "0x1"},
		},
		RawEvidence: []byte("evidence"),
		Signer:      "0xsigner",
	})
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	if progress == nil {
		progress = map[string]any{}
	}
	return &workflow.WorkflowRecord{ID: "rec-1", Type: workflow.WorkSubmission, Step: step, Input: input, Progress: progress, Signer: "0xsigner"}
}

func TestDeriveStep_Idempotent(t *testing.T) {
	rec := newRecord(t, reconcile.StepDerive, map[string]any{reconcile.KeyThreadRoot: "0xalready"})
	outcome := deriveStep(context.Background(), rec)
	if outcome.Kind != workflow.OutcomeSuccess || outcome.NextStep != reconcile.StepUpload {
		t.Fatalf("expected idempotent success to upload, got %+v", outcome)
	}
	if len(outcome.ProgressUpdates) != 0 {
		t.Fatalf("expected no progress updates on idempotent short-circuit, got %v", outcome.ProgressUpdates)
	}
}

func TestDeriveStep_ComputesRoots(t *testing.T) {
	rec := newRecord(t, reconcile.StepDerive, nil)
	outcome := deriveStep(context.Background(), rec)
	if outcome.Kind != workflow.OutcomeSuccess || outcome.NextStep != reconcile.StepUpload {
		t.Fatalf("expected success to upload, got %+v", outcome)
	}
	if outcome.ProgressUpdates[reconcile.KeyThreadRoot] == "" {
		t.Fatal("expected a non-empty thread_root")
	}
}

func TestDeriveStep_EmptyEvidenceFails(t *testing.T) {
	input, _ := json.Marshal(workflow.WorkSubmissionInput{Studio: "studio-a", Epoch: 1, DataHash: "0xdata"})
	rec := &workflow.WorkflowRecord{ID: "rec-1", Type: workflow.WorkSubmission, Step: reconcile.StepDerive, Input: input, Progress: map[string]any{}}
	outcome := deriveStep(context.Background(), rec)
	if outcome.Kind != workflow.OutcomeFailed {
		t.Fatalf("expected FAILED for empty evidence, got %+v", outcome)
	}
}

func TestUploadStep_IdempotentWhenStorageIDPresent(t *testing.T) {
	cfg := Config{Storage: blob.NewMockAdapter()}
	rec := newRecord(t, reconcile.StepUpload, map[string]any{reconcile.KeyStorageID: "blob-1"})
	outcome := cfg.uploadStep(context.Background(), rec)
	if outcome.Kind != workflow.OutcomeSuccess || outcome.NextStep != reconcile.StepAwaitStorage {
		t.Fatalf("expected idempotent success, got %+v", outcome)
	}
}

func TestUploadStep_UploadsAndPersistsID(t *testing.T) {
	storageAdapter := blob.NewMockAdapter()
	cfg := Config{Storage: storageAdapter}
	rec := newRecord(t, reconcile.StepUpload, nil)
	outcome := cfg.uploadStep(context.Background(), rec)
	if outcome.Kind != workflow.OutcomeSuccess || outcome.NextStep != reconcile.StepAwaitStorage {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if outcome.ProgressUpdates[reconcile.KeyStorageID] == "" {
		t.Fatal("expected a storage id to be persisted")
	}
}

func TestAwaitStorageStep_StalledPastBudget(t *testing.T) {
	storageAdapter := blob.NewMockAdapter()
	storageAdapter.SetStatus("blob-1", blob.StatusPending)
	cfg := Config{Storage: storageAdapter, StorageConfirmBudget: -1}
	rec := newRecord(t, reconcile.StepAwaitStorage, map[string]any{
		reconcile.KeyStorageID: "blob-1",
		uploadStartedAtKey:     float64(0),
	})
	outcome := cfg.awaitStorageStep(context.Background(), rec)
	if outcome.Kind != workflow.OutcomeStalled {
		t.Fatalf("expected STALLED past budget, got %+v", outcome)
	}
}

func TestSubmitOnchainStep_IdempotentWhenHashPresent(t *testing.T) {
	cfg := Config{TxQueue: txqueue.New(chain.NewMockAdapter(), nil)}
	rec := newRecord(t, reconcile.StepSubmitOnchain, map[string]any{reconcile.KeyOnchainTxHash: "0xtx"})
	outcome := cfg.submitOnchainStep(context.Background(), rec)
	if outcome.Kind != workflow.OutcomeSuccess || outcome.NextStep != reconcile.StepAwaitOnchain {
		t.Fatalf("expected idempotent success, got %+v", outcome)
	}
}

func TestAwaitOnchainStep_RevertedFails(t *testing.T) {
	chainAdapter := chain.NewMockAdapter()
	chainAdapter.SetReceipt("0xtx", chain.Receipt{Status: chain.StatusReverted, RevertReason: "not authorized"})
	cfg := Config{TxQueue: txqueue.New(chainAdapter, nil), MinConfirmations: 1}
	rec := newRecord(t, reconcile.StepAwaitOnchain, map[string]any{reconcile.KeyOnchainTxHash: "0xtx"})
	outcome := cfg.awaitOnchainStep(context.Background(), rec)
	if outcome.Kind != workflow.OutcomeFailed {
		t.Fatalf("expected FAILED, got %+v", outcome)
	}
}

func TestAwaitOnchainStep_ConfirmedAdvancesToRegister(t *testing.T) {
	chainAdapter := chain.NewMockAdapter()
	block := uint64(42)
	chainAdapter.SetReceipt("0xtx", chain.Receipt{Status: chain.StatusConfirmed, BlockNumber: &block})
	cfg := Config{TxQueue: txqueue.New(chainAdapter, nil), MinConfirmations: 1}
	rec := newRecord(t, reconcile.StepAwaitOnchain, map[string]any{reconcile.KeyOnchainTxHash: "0xtx"})
	outcome := cfg.awaitOnchainStep(context.Background(), rec)
	if outcome.Kind != workflow.OutcomeSuccess || outcome.NextStep != reconcile.StepRegister {
		t.Fatalf("expected success to register, got %+v", outcome)
	}
	if outcome.ProgressUpdates[reconcile.KeyOnchainBlock] != uint64(42) {
		t.Fatalf("expected block number persisted, got %v", outcome.ProgressUpdates[reconcile.KeyOnchainBlock])
	}
}

func TestRegisterStep_UsesAdminSignerWhenConfigured(t *testing.T) {
	chainAdapter := chain.NewMockAdapter()
	q := txqueue.New(chainAdapter, nil)
	cfg := Config{TxQueue: q, AdminSigner: "0xadmin"}
	rec := newRecord(t, reconcile.StepRegister, nil)
	outcome := cfg.registerStep(context.Background(), rec)
	if outcome.Kind != workflow.OutcomeSuccess || outcome.NextStep != reconcile.StepAwaitRegister {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if !q.IsLocked("0xadmin") {
		t.Fatal("expected the admin signer, not the workflow's own signer, to hold the lock")
	}
	if q.IsLocked(rec.Signer) {
		t.Fatal("did not expect the workflow's own signer to be locked")
	}
}
