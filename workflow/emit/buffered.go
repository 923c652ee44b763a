package emit

import (
	"context"
	"sync"
)

// BufferedEmitter implements Emitter by storing events in memory.
//
// This emitter captures all events and provides query capabilities for
// record history analysis. Events are organized by runID (the workflow
// record's ID) for efficient retrieval and filtering.
//
// Features:
//   - Thread-safe concurrent access
//   - Query by runID with optional filtering
//   - Filter by nodeID (step name), message, attempt-ordinal (Event.Step) range
//   - Clear events by runID or all events
//
// Use cases:
//   - Development and debugging
//   - Testing and validation
//   - Real-time monitoring dashboards
//   - Post-execution analysis
//
// Warning: this emitter stores all events in memory. For production
// deployments with long-running or high-volume reconciliation, prefer a
// persistent backend or add event rotation/cleanup.
//
// Example usage:
//
//	emitter := emit.NewBufferedEmitter()
//	engine, _ := workflow.New(store, emitter, registry, reconciler, opts)
//
//	events := emitter.GetHistory("rec-001")
//	errorEvents := emitter.GetHistoryWithFilter("rec-001", emit.HistoryFilter{Msg: "failed"})
//
//	emitter.Clear("rec-001")
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter specifies criteria for filtering record history.
//
// All filter fields are optional. When multiple fields are set, they are
// combined with AND logic (all conditions must match).
type HistoryFilter struct {
	NodeID  string // filter by step name (empty = no filter)
	Msg     string // filter by message (empty = no filter)
	MinStep *int   // minimum attempt ordinal, Event.Step (nil = no filter)
	MaxStep *int   // maximum attempt ordinal, Event.Step (nil = no filter)
}

// NewBufferedEmitter creates a BufferedEmitter that stores all events in
// memory and provides query capabilities. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores an event in the buffer, keyed by its RunID. Thread-safe.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// EmitBatch stores events in order, same as calling Emit for each. Thread-safe.
func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, event := range events {
		b.Emit(event)
	}
	return nil
}

// Flush is a no-op: BufferedEmitter holds events in memory, there is nothing
// to deliver downstream.
func (b *BufferedEmitter) Flush(_ context.Context) error {
	return nil
}

// GetHistory returns all events for runID in emission order, or an empty
// slice if none exist. Returns a copy, safe against concurrent Emit calls.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if events == nil {
		return []Event{}
	}

	result := make([]Event, len(events))
	copy(result, events)
	return result
}

// GetHistoryWithFilter returns runID's events matching filter (AND logic
// across set fields), in emission order.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if events == nil {
		return []Event{}
	}

	if filter.NodeID == "" && filter.Msg == "" && filter.MinStep == nil && filter.MaxStep == nil {
		result := make([]Event, len(events))
		copy(result, events)
		return result
	}

	var result []Event
	for _, event := range events {
		if !b.matchesFilter(event, filter) {
			continue
		}
		result = append(result, event)
	}

	if result == nil {
		return []Event{}
	}
	return result
}

func (b *BufferedEmitter) matchesFilter(event Event, filter HistoryFilter) bool {
	if filter.NodeID != "" && event.NodeID != filter.NodeID {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinStep != nil && event.Step < *filter.MinStep {
		return false
	}
	if filter.MaxStep != nil && event.Step > *filter.MaxStep {
		return false
	}
	return true
}

// Clear removes stored events for runID, or every run's events if runID
// is empty. Thread-safe.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
	} else {
		delete(b.events, runID)
	}
}
