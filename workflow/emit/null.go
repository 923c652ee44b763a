package emit

import "context"

// NullEmitter implements Emitter by discarding every event. It suits
// deployments with no observability backend wired up, and is
// handy in tests that only care about reconciliation behavior, not the
// events it produces.
type NullEmitter struct{}

// NewNullEmitter returns a NullEmitter. Safe for concurrent use; it holds
// no state.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards event.
func (n *NullEmitter) Emit(event Event) {
}

// EmitBatch discards events and always returns nil.
func (n *NullEmitter) EmitBatch(_ context.Context, events []Event) error {
	return nil
}

// Flush is a no-op: there is nothing buffered to deliver.
func (n *NullEmitter) Flush(_ context.Context) error {
	return nil
}
