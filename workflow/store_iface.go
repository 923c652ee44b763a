package workflow

import (
	"context"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow/emit"
)

// Store is the persistence contract for WorkflowRecord, per §4.1. The
// interface lives in the root package (rather than in the store
// subpackage, as the teacher's generic Store[S] does) because
// WorkflowRecord is a concrete type here, not a type parameter: declaring
// Store next to WorkflowRecord avoids store -> workflow -> store import
// cycle while concrete backends still live in workflow/store.
type Store interface {
	// Create inserts a new record. Returns ErrAlreadyExists if the id is
	// already present.
	Create(ctx context.Context, rec *WorkflowRecord) error

	// Load returns the record for id, or ErrNotFound.
	Load(ctx context.Context, id string) (*WorkflowRecord, error)

	// UpdateState atomically updates state, step, and step_attempts. Returns
	// ErrNotFound if id is missing.
	UpdateState(ctx context.Context, id string, state MetaState, step string, stepAttempts int) error

	// AppendProgress atomically merges fields into the record's progress:
	// existing ⊕ new, right (new) wins per top-level key. MUST be a single
	// transaction; callers rely on this for the write-ahead invariant.
	AppendProgress(ctx context.Context, id string, fields map[string]any) error

	// SetError atomically sets (or clears, passing nil) the record's error.
	SetError(ctx context.Context, id string, stepErr *StepError) error

	// FindActiveWorkflows returns every record with state in
	// {RUNNING, STALLED}, oldest (by CreatedAt) first.
	FindActiveWorkflows(ctx context.Context) ([]*WorkflowRecord, error)

	// FindByTypeAndState filters by exact type and state.
	FindByTypeAndState(ctx context.Context, t WorkflowType, s MetaState) ([]*WorkflowRecord, error)

	// FindByStudio, FindByDataHash, FindByAgent are the read-only indexed
	// queries §4.1 reserves for external readers, implemented here so a
	// bootstrap query layer (out of scope) has something to call.
	FindByStudio(ctx context.Context, studio string) ([]*WorkflowRecord, error)
	FindByDataHash(ctx context.Context, dataHash string) ([]*WorkflowRecord, error)
	FindByAgent(ctx context.Context, agent string) ([]*WorkflowRecord, error)

	// Enqueue, PendingEvents, and MarkEventsEmitted implement the
	// transactional outbox pattern for at-least-once event delivery
	// independent of the in-process Emitter passed to the engine: Enqueue
	// persists an event alongside the record it describes, PendingEvents
	// lets an out-of-process relay replay anything the Emitter may have
	// dropped, and MarkEventsEmitted retires replayed events.
	Enqueue(ctx context.Context, ev emit.Event) error
	PendingEvents(ctx context.Context, limit int) ([]emit.Event, error)
	MarkEventsEmitted(ctx context.Context, eventIDs []string) error
}
