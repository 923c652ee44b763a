// Package scoresubmission implements the ScoreSubmission pipeline of
// §4.5.2: a direct four-step chain (submit_score, await_score,
// register_validator, await_register_validator) or a commit-reveal
// six-step chain (commit, await_commit, reveal, await_reveal,
// register_validator, await_register_validator), selected by the
// record's Mode.
package scoresubmission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/chain"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/reconcile"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/txqueue"
)

// Config wires the adapters one Definition needs.
type Config struct {
	TxQueue          *txqueue.Queue
	Chain            chain.Adapter
	AdminSigner      string
	MinConfirmations int
}

// NewDefinition builds the ScoreSubmission workflow.Definition, covering
// both the direct and commit_reveal sub-pipelines under one Definition
// since the record's step graph only ever visits the steps its own Mode
// selects.
func NewDefinition(cfg Config) *workflow.Definition {
	return &workflow.Definition{
		Type: workflow.ScoreSubmission,
		Steps: map[string]workflow.Step{
			reconcile.StepSubmitScore:            workflow.IrreversibleStepFunc(cfg.submitScoreStep),
			reconcile.StepAwaitScore:              workflow.StepFunc(cfg.awaitScoreStep),
			reconcile.StepCommit:                  workflow.IrreversibleStepFunc(cfg.commitStep),
			reconcile.StepAwaitCommit:              workflow.StepFunc(cfg.awaitCommitStep),
			reconcile.StepReveal:                  workflow.IrreversibleStepFunc(cfg.revealStep),
			reconcile.StepAwaitReveal:              workflow.StepFunc(cfg.awaitRevealStep),
			reconcile.StepRegisterValidator:        workflow.IrreversibleStepFunc(cfg.registerValidatorStep),
			reconcile.StepAwaitRegisterValidator:   workflow.StepFunc(cfg.awaitRegisterValidatorStep),
		},
		SelectInitialStep: func(raw json.RawMessage) (string, error) {
			in, err := workflow.DecodeScoreSubmissionInput(raw)
			if err != nil {
				return "", err
			}
			if in.Mode == workflow.ScoreModeCommitReveal {
				return reconcile.StepCommit, nil
			}
			return reconcile.StepSubmitScore, nil
		},
	}
}

func (cfg Config) submitScoreStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if hash, ok := rec.Progress[reconcile.KeyScoreTxHash].(string); ok && hash != "" {
		return workflow.Success(reconcile.StepAwaitScore, nil)
	}
	in, err := workflow.DecodeScoreSubmissionInput(rec.Input)
	if err != nil {
		return workflow.Failed(err, nil)
	}
	req := chain.TxRequest{To: in.Studio, Data: encodeScores(in)}
	hash, err := cfg.TxQueue.SubmitOnly(ctx, rec.ID, rec.Signer, req)
	if err != nil {
		return classifyOutcome(err)
	}
	return workflow.Success(reconcile.StepAwaitScore, map[string]any{reconcile.KeyScoreTxHash: hash})
}

func (cfg Config) awaitScoreStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if confirmed, _ := rec.Progress[reconcile.KeyScoreConfirmed].(bool); confirmed {
		return workflow.Success(reconcile.StepRegisterValidator, nil)
	}
	return cfg.awaitStage(ctx, rec, reconcile.KeyScoreTxHash, reconcile.KeyScoreConfirmed, reconcile.KeyScoreBlock, reconcile.StepRegisterValidator)
}

func (cfg Config) commitStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if hash, ok := rec.Progress[reconcile.KeyCommitTxHash].(string); ok && hash != "" {
		return workflow.Success(reconcile.StepAwaitCommit, nil)
	}
	in, err := workflow.DecodeScoreSubmissionInput(rec.Input)
	if err != nil {
		return workflow.Failed(err, nil)
	}
	req := chain.TxRequest{To: in.Studio, Data: encodeCommit(in)}
	hash, err := cfg.TxQueue.SubmitOnly(ctx, rec.ID, rec.Signer, req)
	if err != nil {
		return classifyOutcome(err)
	}
	return workflow.Success(reconcile.StepAwaitCommit, map[string]any{reconcile.KeyCommitTxHash: hash})
}

func (cfg Config) awaitCommitStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if confirmed, _ := rec.Progress[reconcile.KeyCommitConfirmed].(bool); confirmed {
		return workflow.Success(reconcile.StepReveal, nil)
	}
	return cfg.awaitStage(ctx, rec, reconcile.KeyCommitTxHash, reconcile.KeyCommitConfirmed, reconcile.KeyCommitBlock, reconcile.StepReveal)
}

func (cfg Config) revealStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if hash, ok := rec.Progress[reconcile.KeyRevealTxHash].(string); ok && hash != "" {
		return workflow.Success(reconcile.StepAwaitReveal, nil)
	}
	in, err := workflow.DecodeScoreSubmissionInput(rec.Input)
	if err != nil {
		return workflow.Failed(err, nil)
	}
	req := chain.TxRequest{To: in.Studio, Data: encodeReveal(in)}
	hash, err := cfg.TxQueue.SubmitOnly(ctx, rec.ID, rec.Signer, req)
	if err != nil {
		return classifyOutcome(err)
	}
	return workflow.Success(reconcile.StepAwaitReveal, map[string]any{reconcile.KeyRevealTxHash: hash})
}

func (cfg Config) awaitRevealStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if confirmed, _ := rec.Progress[reconcile.KeyRevealConfirmed].(bool); confirmed {
		return workflow.Success(reconcile.StepRegisterValidator, nil)
	}
	return cfg.awaitStage(ctx, rec, reconcile.KeyRevealTxHash, reconcile.KeyRevealConfirmed, reconcile.KeyRevealBlock, reconcile.StepRegisterValidator)
}

func (cfg Config) registerValidatorStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if hash, ok := rec.Progress[reconcile.KeyRegisterTxHash].(string); ok && hash != "" {
		return workflow.Success(reconcile.StepAwaitRegisterValidator, nil)
	}
	in, err := workflow.DecodeScoreSubmissionInput(rec.Input)
	if err != nil {
		return workflow.Failed(err, nil)
	}
	signer := cfg.AdminSigner
	if signer == "" {
		signer = rec.Signer
	}
	req := chain.TxRequest{To: in.Studio, Data: encodeValidatorRegistration(in)}
	hash, err := cfg.TxQueue.SubmitOnly(ctx, rec.ID, signer, req)
	if err != nil {
		return classifyOutcome(err)
	}
	return workflow.Success(reconcile.StepAwaitRegisterValidator, map[string]any{reconcile.KeyRegisterTxHash: hash})
}

func (cfg Config) awaitRegisterValidatorStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if confirmed, _ := rec.Progress[reconcile.KeyRegisterConfirmed].(bool); confirmed {
		return workflow.Success(workflow.StepCompleted, nil)
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
		return workflow.Stalled("validator registration tx not found", nil)
	default:
		return workflow.Retry(errTxPending, nil)
	}
}

// awaitStage is the shared body for every intermediate (non-registration)
// await_* step: wait on the tx, persist confirmation/block on success,
// release the signer lock, advance to nextStep.
func (cfg Config) awaitStage(ctx context.Context, rec *workflow.WorkflowRecord, hashKey, confirmedKey, blockKey, nextStep string) workflow.StepOutcome {
	hash, _ := rec.Progress[hashKey].(string)
	receipt, err := cfg.TxQueue.WaitForTx(ctx, hash, cfg.MinConfirmations)
	if err != nil {
		return classifyOutcome(err)
	}

	switch receipt.Status {
	case chain.StatusConfirmed:
		cfg.TxQueue.ReleaseSignerLock(rec.Signer)
		updates := map[string]any{confirmedKey: true}
		if receipt.BlockNumber != nil {
			updates[blockKey] = *receipt.BlockNumber
		}
		return workflow.Success(nextStep, updates)
	case chain.StatusReverted:
		cfg.TxQueue.ReleaseSignerLock(rec.Signer)
		return workflow.Failed(fmt.Errorf("%s", receipt.RevertReason), nil)
	case chain.StatusNotFound:
		return workflow.Stalled("transaction not found", nil)
	default:
		return workflow.Retry(errTxPending, nil)
	}
}

func classifyOutcome(err error) workflow.StepOutcome {
	if workflow.Classify(err) == workflow.Permanent {
		return workflow.Failed(err, nil)
	}
	return workflow.Retry(err, nil)
}

var errTxPending = fmt.Errorf("transaction not yet confirmed")

func encodeScores(in workflow.ScoreSubmissionInput) []byte {
	b, _ := json.Marshal(struct {
		Studio   string `json:"studio"`
		DataHash string `json:"data_hash"`
		Scores   []int  `json:"scores"`
	}{in.Studio, in.DataHash, in.Scores})
	return b
}

func encodeCommit(in workflow.ScoreSubmissionInput) []byte {
	b, _ := json.Marshal(struct {
		Studio   string `json:"studio"`
		DataHash string `json:"data_hash"`
	}{in.Studio, in.DataHash})
	return b
}

func encodeReveal(in workflow.ScoreSubmissionInput) []byte {
	b, _ := json.Marshal(struct {
		Studio   string `json:"studio"`
		DataHash string `json:"data_hash"`
		Scores   []int  `json:"scores"`
		Salt     string `json:"salt"`
	}{in.Studio, in.DataHash, in.Scores, in.Salt})
	return b
}

func encodeValidatorRegistration(in workflow.ScoreSubmissionInput) []byte {
	b, _ := json.Marshal(struct {
		Studio           string `json:"studio"`
		Epoch            int64  `json:"epoch"`
		ValidatorAddress string `json:"validator_address"`
	}{in.Studio, in.Epoch, in.ValidatorAddress})
	return b
}
