package emit

// Event represents an observability event emitted during workflow execution:
// step start/complete, state transitions, reconciliation actions, and
// terminal outcomes. Emitted to an Emitter, which can log to stdout/stderr,
// send to OpenTelemetry, or discard.
type Event struct {
	// RunID identifies the workflow record that emitted this event.
	RunID string

	// Step is the step's attempt ordinal (rec.StepAttempts) at the moment
	// this event was emitted, 0 for events not tied to a specific attempt
	// (creation, completion). The step itself is named by NodeID, not Step.
	Step int

	// NodeID holds the name of the step the record was on when this event
	// was emitted. Empty only for WORKFLOW_CREATED; WORKFLOW_COMPLETED
	// carries "COMPLETED", and WORKFLOW_FAILED/WORKFLOW_STALLED carry the
	// step that failed or stalled.
	NodeID string

	// Msg is a human-readable description of the event.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Keys set by the engine:
	//   - "attempt", "reason": on STEP_RETRY
	//   - "message": on WORKFLOW_FAILED and WORKFLOW_STALLED
	//   - "action": on RECONCILIATION_RAN (the reconcile action kind)
	//   - "event_id": added by a store's outbox when the event is enqueued
	// OTelEmitter also reads an "error" key to set the span's error status.
	Meta map[string]interface{}
}
