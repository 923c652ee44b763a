// Package reconcile computes, from a workflow record and external chain and
// storage state, the next move for a workflow without mutating anything.
// The reconciler is the single authority on "what actually happened"; its
// contract is idempotent and monotone: running it twice on unchanged inputs
// yields the same action, and applying NO_CHANGE never alters a record.
package reconcile

// Kind tags which of the six reconciliation actions a rule produced.
type Kind int

const (
	NoChange Kind = iota
	AdvanceToStep
	UpdateProgress
	ClearTxHashAndRetry
	Complete
	Fail
)

// Action is the result of reconciling one workflow record. The engine
// applies it in a persistence transaction separate from the reconciliation
// itself.
type Action struct {
	Kind Kind

	// Step is the target step name for AdvanceToStep.
	Step string

	// ProgressUpdates are merged into the record's progress for
	// AdvanceToStep and UpdateProgress. A value of "" or nil for a key that
	// should be cleared (e.g. a stale tx hash) is a deliberate clear --
	// appendProgress's merge rule treats it as any other overwrite.
	ProgressUpdates map[string]any

	// Reason is the terminal-failure explanation for Fail; the engine
	// writes it into the record's StepError.Message with
	// Code=ReconciliationFailureCode.
	Reason string
}

func noChange() Action { return Action{Kind: NoChange} }

func advanceToStep(step string, updates map[string]any) Action {
	return Action{Kind: AdvanceToStep, Step: step, ProgressUpdates: updates}
}

func updateProgress(updates map[string]any) Action {
	return Action{Kind: UpdateProgress, ProgressUpdates: updates}
}

func clearTxHashAndRetry(txHashKey string) Action {
	return Action{Kind: ClearTxHashAndRetry, ProgressUpdates: map[string]any{txHashKey: ""}}
}

func complete() Action {
	return Action{Kind: Complete}
}

func fail(reason string) Action {
	return Action{Kind: Fail, Reason: reason}
}
