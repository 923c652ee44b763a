// Package closeepoch implements the three-step CloseEpoch pipeline of
// §4.5.3: check whether the epoch is already closed, submit the close
// transaction, await its confirmation.
package closeepoch

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
	EpochState       chain.EpochClosedPredicate
	AdminSigner      string
	MinConfirmations int
}

// NewDefinition builds the CloseEpoch workflow.Definition.
func NewDefinition(cfg Config) *workflow.Definition {
	return &workflow.Definition{
		Type: workflow.CloseEpoch,
		Steps: map[string]workflow.Step{
			reconcile.StepCheck:       workflow.StepFunc(cfg.checkStep),
			reconcile.StepSubmitClose: workflow.IrreversibleStepFunc(cfg.submitCloseStep),
			reconcile.StepAwaitClose:  workflow.StepFunc(cfg.awaitCloseStep),
		},
		SelectInitialStep: func(json.RawMessage) (string, error) {
			return reconcile.StepCheck, nil
		},
	}
}

func (cfg Config) checkStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	in, err := workflow.DecodeCloseEpochInput(rec.Input)
	if err != nil {
		return workflow.Failed(err, nil)
	}

	closed, err := cfg.EpochState.IsEpochClosed(ctx, in.Studio, in.Epoch)
	if err != nil {
		return classifyOutcome(err)
	}
	if closed {
		return workflow.Success(workflow.StepCompleted, nil)
	}
	return workflow.Success(reconcile.StepSubmitClose, nil)
}

func (cfg Config) submitCloseStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if hash, ok := rec.Progress[reconcile.KeyCloseTxHash].(string); ok && hash != "" {
		return workflow.Success(reconcile.StepAwaitClose, nil)
	}
	in, err := workflow.DecodeCloseEpochInput(rec.Input)
	if err != nil {
		return workflow.Failed(err, nil)
	}

	signer := cfg.AdminSigner
	if signer == "" {
		signer = rec.Signer
	}

	req := chain.TxRequest{To: in.Studio, Data: encodeClose(in)}
	hash, err := cfg.TxQueue.SubmitOnly(ctx, rec.ID, signer, req)
	if err != nil {
		return classifyOutcome(err)
	}
	return workflow.Success(reconcile.StepAwaitClose, map[string]any{reconcile.KeyCloseTxHash: hash})
}

func (cfg Config) awaitCloseStep(ctx context.Context, rec *workflow.WorkflowRecord) workflow.StepOutcome {
	if confirmed, _ := rec.Progress[reconcile.KeyCloseConfirmed].(bool); confirmed {
		return workflow.Success(workflow.StepCompleted, nil)
	}

	in, err := workflow.DecodeCloseEpochInput(rec.Input)
	if err != nil {
		return workflow.Failed(err, nil)
	}

	signer := cfg.AdminSigner
	if signer == "" {
		signer = rec.Signer
	}

	hash, _ := rec.Progress[reconcile.KeyCloseTxHash].(string)
	receipt, err := cfg.TxQueue.WaitForTx(ctx, hash, cfg.MinConfirmations)
	if err != nil {
		return classifyOutcome(err)
	}

	switch receipt.Status {
	case chain.StatusConfirmed:
		cfg.TxQueue.ReleaseSignerLock(signer)
		stillClosed, err := cfg.EpochState.IsEpochClosed(ctx, in.Studio, in.Epoch)
		if err != nil {
			return classifyOutcome(err)
		}
		if !stillClosed {
			return workflow.Failed(fmt.Errorf("tx confirmed but epoch not closed"), nil)
		}
		return workflow.Success(workflow.StepCompleted, map[string]any{
			reconcile.KeyCloseConfirmed: true,
			reconcile.KeyClosedAt:       time.Now().UnixMilli(),
		})
	case chain.StatusReverted:
		cfg.TxQueue.ReleaseSignerLock(signer)
		if workflow.IsIdempotentSuccess(receipt.RevertReason) {
			return workflow.Success(workflow.StepCompleted, map[string]any{reconcile.KeyCloseConfirmed: true})
		}
		return workflow.Failed(fmt.Errorf("%s", receipt.RevertReason), nil)
	case chain.StatusNotFound:
		return workflow.Stalled("close-epoch tx not found", nil)
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

func encodeClose(in workflow.CloseEpochInput) []byte {
	b, _ := json.Marshal(struct {
		Studio string `json:"studio"`
		Epoch  int64  `json:"epoch"`
	}{in.Studio, in.Epoch})
	return b
}
