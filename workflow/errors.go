// Package workflow implements a durable, crash-safe orchestrator for
// multi-step blockchain submission workflows.
package workflow

import "errors"

// ErrNotFound is returned when a workflow record does not exist in the store.
var ErrNotFound = errors.New("workflow: record not found")

// ErrAlreadyExists is returned when Create is called with a workflow ID that
// already has a record.
var ErrAlreadyExists = errors.New("workflow: record already exists")

// ErrInvalidRetryPolicy indicates a RetryPolicy failed validation.
var ErrInvalidRetryPolicy = errors.New("workflow: invalid retry policy")

// ErrUnknownWorkflowType indicates a WorkflowType has no registered
// Definition.
var ErrUnknownWorkflowType = errors.New("workflow: unknown workflow type")

// ErrUnknownStep indicates a record's step name has no corresponding Step in
// its Definition.
var ErrUnknownStep = errors.New("workflow: unknown step")

// ErrTerminal is returned when an operation is attempted against a workflow
// that has already reached COMPLETED or FAILED.
var ErrTerminal = errors.New("workflow: record is in a terminal state")

// ErrSignerBusy indicates the per-signer transaction queue could not acquire
// its lock before the caller's context was cancelled.
var ErrSignerBusy = errors.New("workflow: signer queue busy")

// EngineError is the structured error returned for programmatic dispatch by
// the engine's driver loop. Code is a short machine-checkable string; Message
// is human-readable; Cause, when present, wraps the underlying error.
type EngineError struct {
	Code    string
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return e.Code + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Engine error codes.
const (
	CodeWorkflowNotFound  = "WORKFLOW_NOT_FOUND"
	CodeWorkflowExists    = "WORKFLOW_ALREADY_EXISTS"
	CodeUnknownType       = "UNKNOWN_WORKFLOW_TYPE"
	CodeUnknownStep       = "UNKNOWN_STEP"
	CodeStoreError        = "STORE_ERROR"
	CodeTerminalState     = "TERMINAL_STATE"
	CodeMaxAttempts       = "MAX_ATTEMPTS_EXCEEDED"
	CodeStepTimeout       = "STEP_TIMEOUT"
	CodeReconcileError    = "RECONCILE_ERROR"
	CodeInvalidDefinition = "INVALID_DEFINITION"
)

// StepError is the durable, record-embedded counterpart of EngineError. It is
// the last error observed for a record's current step, persisted alongside
// the record so it survives process restarts.
//
// Recoverable is true only while the owning record's state is STALLED;
// FAILED records always carry Recoverable=false.
type StepError struct {
	Step        string `json:"step"`
	Message     string `json:"message"`
	Code        string `json:"code"`
	Timestamp   int64  `json:"timestamp"`
	Recoverable bool   `json:"recoverable"`
}

// ReconciliationFailureCode is the StepError.Code set when a FAIL action from
// the reconciler is applied by the engine.
const ReconciliationFailureCode = "RECONCILIATION_FAILURE"
