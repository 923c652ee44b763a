package workflow

import "context"

// OutcomeKind tags which of the four outcomes a Step.Execute call produced.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetry
	OutcomeStalled
	OutcomeFailed
)

// StepOutcome is the tagged-variant result of executing one step, per
// §4.5 of the step executor contract: SUCCESS carries the next step name
// (or StepCompleted); RETRY and FAILED carry a classified error; STALLED
// carries a human-readable reason.
type StepOutcome struct {
	Kind OutcomeKind

	// NextStep is set on OutcomeSuccess: the step name to transition to, or
	// StepCompleted.
	NextStep string

	// ProgressUpdates are merged into the record's progress before the
	// transition is persisted, regardless of outcome kind. Steps use this to
	// satisfy the write-ahead invariant: a tx hash MUST be present here
	// before a step returns, never discovered only as a side effect later.
	ProgressUpdates map[string]any

	// Err is the error backing RETRY/FAILED outcomes.
	Err error

	// Reason is the human-readable explanation for a STALLED outcome.
	Reason string
}

// Success builds a SUCCESS outcome transitioning to nextStep.
func Success(nextStep string, progress map[string]any) StepOutcome {
	return StepOutcome{Kind: OutcomeSuccess, NextStep: nextStep, ProgressUpdates: progress}
}

// Retry builds a RETRY outcome.
func Retry(err error, progress map[string]any) StepOutcome {
	return StepOutcome{Kind: OutcomeRetry, Err: err, ProgressUpdates: progress}
}

// Stalled builds a STALLED outcome.
func Stalled(reason string, progress map[string]any) StepOutcome {
	return StepOutcome{Kind: OutcomeStalled, Reason: reason, ProgressUpdates: progress}
}

// Failed builds a FAILED outcome.
func Failed(err error, progress map[string]any) StepOutcome {
	return StepOutcome{Kind: OutcomeFailed, Err: err, ProgressUpdates: progress}
}

// Step is the polymorphic contract every named step in a workflow
// Definition implements.
//
// IsIrreversible declares whether executing this step commits an external
// effect that cannot be rolled back; the engine runs the reconciler
// immediately before invoking any step for which this returns true.
//
// Execute MUST inspect rec.Progress at its top and short-circuit to SUCCESS
// if its own side effect was already recorded by a prior, possibly-crashed
// attempt -- this is the idempotency requirement that, combined with the
// write-ahead invariant, guarantees at-most-once external effects.
type Step interface {
	IsIrreversible() bool
	Execute(ctx context.Context, rec *WorkflowRecord) StepOutcome
}

// StepFunc adapts a plain function to the Step interface for steps that are
// never irreversible (pure computation, uploads, polls).
type StepFunc func(ctx context.Context, rec *WorkflowRecord) StepOutcome

func (f StepFunc) IsIrreversible() bool { return false }

func (f StepFunc) Execute(ctx context.Context, rec *WorkflowRecord) StepOutcome {
	return f(ctx, rec)
}

// IrreversibleStepFunc adapts a plain function to the Step interface for
// steps that always declare irreversibility (on-chain submissions).
type IrreversibleStepFunc func(ctx context.Context, rec *WorkflowRecord) StepOutcome

func (f IrreversibleStepFunc) IsIrreversible() bool { return true }

func (f IrreversibleStepFunc) Execute(ctx context.Context, rec *WorkflowRecord) StepOutcome {
	return f(ctx, rec)
}
