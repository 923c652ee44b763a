// Package emit provides event emission and observability for workflow
// record execution: step start/complete, reconciliation actions, retries,
// and terminal outcomes.
package emit

import "context"

// Emitter receives and processes observability events emitted while a
// workflow record is driven through its steps.
//
// Emitters enable pluggable observability backends:
// - Logging: stdout, files, syslog.
// - Distributed tracing: OpenTelemetry, Jaeger, Zipkin.
// - Metrics: Prometheus, StatsD.
// - Analytics: DataDog, New Relic.
//
// Implementations should be:
// - Non-blocking: avoid slowing down the engine's driver loop.
// - Thread-safe: records for different signers may be driven concurrently.
// - Resilient: handle failures gracefully (don't crash the engine).
//
// Common patterns:
// - Buffering: collect events and flush in batches.
// - Filtering: only emit events matching criteria (e.g., errors only).
// - Multi-emit: fan out to multiple backends.
// - Sampling: emit only a percentage of events for high-volume deployments.
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	//
	// Implementations should not block the engine's driver loop.
	// If the backend is unavailable or slow, events should be:
	// - Buffered for later delivery.
	// - Dropped with error logging.
	// - Sent asynchronously.
	//
	// Emit should not panic. Errors should be logged internally.
	Emit(event Event)

	// EmitBatch sends multiple events in a single operation for improved
	// performance when the engine is reconciling many active records at
	// once.
	//
	// Implementations should:
	// - Process events in order (maintain happened-before relationships).
	// - Not block the driver loop (buffer or process asynchronously).
	// - Handle partial failures gracefully (log and continue).
	// - Not panic on errors.
	//
	// Returns error only on catastrophic failures (e.g., configuration
	// errors). Individual event failures should be logged but not returned.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush ensures all buffered events are sent to the backend.
	//
	// Call this method:
	// - Before application shutdown to prevent event loss.
	// - After a record reaches a terminal state, to ensure its events are
	//   delivered.
	// - During testing to verify event emission.
	//
	// Implementations should:
	// - Block until all buffered events are sent or timeout occurs.
	// - Respect context cancellation and deadlines.
	// - Return error if events cannot be delivered.
	// - Be safe to call multiple times (idempotent).
	Flush(ctx context.Context) error
}
