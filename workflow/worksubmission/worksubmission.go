// Package worksubmission implements the seven-step WorkSubmission pipeline
// of §4.5.1: compute derivation roots, upload evidence, await storage
// confirmation, submit on-chain, await confirmation, register in the
// secondary ledger, await registration confirmation.
package worksubmission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/blob"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/chain"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/derivation"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/reconcile"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/txqueue"
)

// Config wires the adapters and policy one Definition needs.
type Config struct {
	TxQueue               *txqueue.Queue
	Chain                 chain.Adapter
	Storage               blob.Adapter
	AdminSigner           string
	StorageConfirmBudget  time.Duration // default 10 minutes
	MinConfirmations      int
}

const uploadStartedAtKey = "storage_upload_started_at"

// NewDefinition builds the WorkSubmission workflow.Definition.
func NewDefinition(cfg Config) *workflow.Definition {
	if cfg.StorageConfirmBudget == 0 {
		cfg.StorageConfirmBudget = 10 * time.Minute
	}

	return &workflow.Definition{
		Type: workflow.WorkSubmission,
		Steps: map[string]workflow.Step{
			reconcile.StepDerive:        workflow.StepFunc(deriveStep),
			reconcile.StepUpload:        workflow.StepFunc(cfg.uploadStep),
			reconcile.StepAwaitStorage:  workflow.StepFunc(cfg.awaitStorageStep),
			reconcile.StepSubmitOnchain: workflow.IrreversibleStepFunc(cfg.submitOnchainStep),
			reconcile.StepAwaitOnchain:  workflow.StepFunc(cfg.awaitOnchainStep),
			reconcile.StepRegister:      workflow.IrreversibleStepFunc(cfg.registerStep),
			reconcile.StepAwaitRegister: workflow.StepFunc(cfg.awaitRegisterStep),
		},
		SelectInitialStep: func(json.RawMessage) (string, error) {
			return reconcile.StepDerive, nil
		},
	}
}

func deriveStep(_ context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if _, ok := rec.Progress[reconcile.KeyThreadRoot]; ok {
		return workflow.Success(reconcile.StepUpload, nil)
	}

	in, err := workflow.DecodeWorkSubmissionInput(rec.Input)
	if err != nil {
		return workflow.Failed(err, nil)
	}
	if len(in.Evidence) == 0 {
		return workflow.Failed(derivation.ErrEmptyEvidence, nil)
	}

	roots := derivation.Compute(in.Evidence)
	return workflow.Success(reconcile.StepUpload, roots.ToProgress())
}

func (cfg Config) uploadStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if id, ok := rec.Progress[reconcile.KeyStorageID]; ok && id != "" {
		return workflow.Success(reconcile.StepAwaitStorage, nil)
	}

	in, err := workflow.DecodeWorkSubmissionInput(rec.Input)
	if err != nil {
		return workflow.Failed(err, nil)
	}

	tags := map[string]string{
		"studio":        in.Studio,
		"epoch":         fmt.Sprint(in.Epoch),
		"data_hash":     in.DataHash,
		"agent_address": in.AgentAddress,
	}

	id, err := cfg.Storage.Upload(ctx, in.RawEvidence, tags)
	if err != nil {
		return classifyOutcome(err)
	}

	return workflow.Success(reconcile.StepAwaitStorage, map[string]any{
		reconcile.KeyStorageID: id,
		uploadStartedAtKey:     time.Now().UnixMilli(),
	})
}

func (cfg Config) awaitStorageStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if confirmed, _ := rec.Progress[reconcile.KeyStorageConfirmed].(bool); confirmed {
		return workflow.Success(reconcile.StepSubmitOnchain, nil)
	}

	id, _ := rec.Progress[reconcile.KeyStorageID].(string)
	status, err := cfg.Storage.Status(ctx, id)
	if err != nil {
		return classifyOutcome(err)
	}

	if status == blob.StatusConfirmed {
		return workflow.Success(reconcile.StepSubmitOnchain, map[string]any{reconcile.KeyStorageConfirmed: true})
	}

	if startedAt, ok := progressMillis(rec.Progress, uploadStartedAtKey); ok {
		elapsed := time.Since(time.UnixMilli(startedAt))
		if elapsed > cfg.StorageConfirmBudget {
			return workflow.Stalled("storage confirmation wall-clock budget exceeded", nil)
		}
	}

	return workflow.Retry(errStoragePending, nil)
}

func (cfg Config) submitOnchainStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if hash, ok := rec.Progress[reconcile.KeyOnchainTxHash].(string); ok && hash != "" {
		return workflow.Success(reconcile.StepAwaitOnchain, nil)
	}

	in, err := workflow.DecodeWorkSubmissionInput(rec.Input)
	if err != nil {
		return workflow.Failed(err, nil)
	}

	req := chain.TxRequest{To: in.Studio, Data: encodeWorkSubmission(in)}
	hash, err := cfg.TxQueue.SubmitOnly(ctx, rec.ID, rec.Signer, req)
	if err != nil {
		return classifyOutcome(err)
	}

	return workflow.Success(reconcile.StepAwaitOnchain, map[string]any{reconcile.KeyOnchainTxHash: hash})
}

func (cfg Config) awaitOnchainStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if confirmed, _ := rec.Progress[reconcile.KeyOnchainConfirmed].(bool); confirmed {
		return workflow.Success(reconcile.StepRegister, nil)
	}

	hash, _ := rec.Progress[reconcile.KeyOnchainTxHash].(string)
	receipt, err := cfg.TxQueue.WaitForTx(ctx, hash, cfg.MinConfirmations)
	if err != nil {
		return classifyOutcome(err)
	}

	switch receipt.Status {
	case chain.StatusConfirmed:
		cfg.TxQueue.ReleaseSignerLock(rec.Signer)
		updates := map[string]any{reconcile.KeyOnchainConfirmed: true}
		if receipt.BlockNumber != nil {
			updates[reconcile.KeyOnchainBlock] = *receipt.BlockNumber
		}
		return workflow.Success(reconcile.StepRegister, updates)
	case chain.StatusReverted:
		cfg.TxQueue.ReleaseSignerLock(rec.Signer)
		return workflow.Failed(fmt.Errorf("%s", receipt.RevertReason), nil)
	case chain.StatusNotFound:
		return workflow.Stalled("on-chain submission tx not found", nil)
	default:
		return workflow.Retry(errTxPending, nil)
	}
}

func (cfg Config) registerStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if hash, ok := rec.Progress[reconcile.KeyRegisterTxHash].(string); ok && hash != "" {
		return workflow.Success(reconcile.StepAwaitRegister, nil)
	}

	in, err := workflow.DecodeWorkSubmissionInput(rec.Input)
	if err != nil {
		return workflow.Failed(err, nil)
	}

	signer := cfg.AdminSigner
	if signer == "" {
		signer = rec.Signer
	}

	req := chain.TxRequest{To: in.Studio, Data: encodeRegistration(in.Studio, in.Epoch, in.DataHash)}
	hash, err := cfg.TxQueue.SubmitOnly(ctx, rec.ID, signer, req)
	if err != nil {
		return classifyOutcome(err)
	}

	return workflow.Success(reconcile.StepAwaitRegister, map[string]any{reconcile.KeyRegisterTxHash: hash})
}

func (cfg Config) awaitRegisterStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if confirmed, _ := rec.Progress[reconcile.KeyRegisterConfirmed].(bool); confirmed {
		return workflow.Success(workflow.StepCompleted, nil)
	}

	in, err := workflow.DecodeWorkSubmissionInput(rec.Input)
	if err != nil {
		return workflow.Failed(err, nil)
	}

	signer := cfg.AdminSigner
	if signer == "" {
		signer = rec.Signer
	}

	hash, _ := rec.Progress[reconcile.KeyRegisterTxHash].(string)
	receipt, err := cfg.TxQueue.WaitForTx(ctx, hash, cfg.MinConfirmations)
	if err != nil {
		return classifyOutcome(err)
	}

	switch receipt.Status {
	case chain.StatusConfirmed:
		cfg.TxQueue.ReleaseSignerLock(signer)
		_ = in
		return workflow.Success(workflow.StepCompleted, map[string]any{
			reconcile.KeyRegisterConfirmed: true,
			reconcile.KeyConfirmedAt:       time.Now().UnixMilli(),
		})
	case chain.StatusReverted:
		cfg.TxQueue.ReleaseSignerLock(signer)
		if workflow.IsIdempotentSuccess(receipt.RevertReason) {
			return workflow.Success(workflow.StepCompleted, map[string]any{reconcile.KeyRegisterConfirmed: true})
		}
		return workflow.Failed(fmt.Errorf("%s", receipt.RevertReason), nil)
	case chain.StatusNotFound:
		return workflow.Stalled("registration tx not found", nil)
	default:
		return workflow.Retry(errTxPending, nil)
	}
}

// classifyOutcome maps an adapter error into RETRY or FAILED per the step
// contract's error-classification requirement.
func classifyOutcome(err error) workflow.StepOutcome {
	if workflow.Classify(err) == workflow.Permanent {
		return workflow.Failed(err, nil)
	}
	return workflow.Retry(err, nil)
}

// progressMillis reads a millisecond timestamp out of progress regardless of
// whether it survived a JSON round-trip (float64) or is still the int64 a
// step wrote in the same process (an in-memory store doesn't serialize
// progress between writes and reads).
func progressMillis(p map[string]any, key string) (int64, bool) {
	switch v := p[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

var errStoragePending = fmt.Errorf("storage upload not yet confirmed")
var errTxPending = fmt.Errorf("transaction not yet confirmed")

// encodeWorkSubmission and encodeRegistration are placeholders for the
// contract call-data encoding this orchestrator treats as an external
// concern (the real ABI/ encoding lives with the chain adapter's caller,
// not this package).
func encodeWorkSubmission(in workflow.WorkSubmissionInput) []byte {
	b, _ := json.Marshal(struct {
		Studio   string `json:"studio"`
		Epoch    int64  `json:"epoch"`
		DataHash string `json:"data_hash"`
	}{in.Studio, in.Epoch, in.DataHash})
	return b
}

func encodeRegistration(studio string, epoch int64, dataHash string) []byte {
	b, _ := json.Marshal(struct {
		Studio   string `json:"studio"`
		Epoch    int64  `json:"epoch"`
		DataHash string `json:"data_hash"`
	}{studio, epoch, dataHash})
	return b
}
