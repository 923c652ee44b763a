// Package store provides persistence backends implementing workflow.Store.
package store

import (
	"context"
	"sort"
	"sync"

	wf "github.com/gilbertsahumada/chaoschain-workflow/workflow"
	"github.com/gilbertsahumada/chaoschain-workflow/workflow/emit"
)

// MemoryStore is an in-memory implementation of workflow.Store. It is
// designed for testing and single-process demos; data is lost when the
// process terminates.
type MemoryStore struct {
	mu            sync.RWMutex
	records       map[string]*wf.WorkflowRecord
	pendingEvents []emit.Event
	eventSeq      int
	eventIDs      map[string]int // event_id -> index in pendingEvents
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*wf.WorkflowRecord),
		eventIDs: make(map[string]int),
	}
}

func (m *MemoryStore) Create(_ context.Context, rec *wf.WorkflowRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.ID]; exists {
		return wf.ErrAlreadyExists
	}

	cp := *rec
	cp.Progress = cloneProgress(rec.Progress)
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*wf.WorkflowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, wf.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) UpdateState(_ context.Context, id string, state wf.MetaState, step string, stepAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return wf.ErrNotFound
	}
	rec.State = state
	rec.Step = step
	rec.StepAttempts = stepAttempts
	rec.UpdatedAt = nowMillisForStore()
	return nil
}

func (m *MemoryStore) AppendProgress(_ context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return wf.ErrNotFound
	}
	rec.Progress = wf.MergeProgress(rec.Progress, fields)
	rec.UpdatedAt = nowMillisForStore()
	return nil
}

func (m *MemoryStore) SetError(_ context.Context, id string, stepErr *wf.StepError) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return wf.ErrNotFound
	}
	rec.Error = stepErr
	rec.UpdatedAt = nowMillisForStore()
	return nil
}

func (m *MemoryStore) FindActiveWorkflows(_ context.Context) ([]*wf.WorkflowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*wf.WorkflowRecord
	for _, rec := range m.records {
		if rec.State == wf.StateRunning || rec.State == wf.StateStalled {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (m *MemoryStore) FindByTypeAndState(_ context.Context, t wf.WorkflowType, s wf.MetaState) ([]*wf.WorkflowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*wf.WorkflowRecord
	for _, rec := range m.records {
		if rec.Type == t && rec.State == s {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (m *MemoryStore) FindByStudio(_ context.Context, studio string) ([]*wf.WorkflowRecord, error) {
	return m.findByInputField(studio, "studio")
}

func (m *MemoryStore) FindByDataHash(_ context.Context, dataHash string) ([]*wf.WorkflowRecord, error) {
	return m.findByInputField(dataHash, "data_hash")
}

func (m *MemoryStore) FindByAgent(_ context.Context, agent string) ([]*wf.WorkflowRecord, error) {
	return m.findByInputField(agent, "agent_address")
}

// findByInputField scans every record's decoded Input for a matching string
// field. MemoryStore has no index; this is adequate for tests and small
// demos, unlike the SQL-backed stores which maintain real indexed columns.
func (m *MemoryStore) findByInputField(value, jsonKey string) ([]*wf.WorkflowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*wf.WorkflowRecord
	for _, rec := range m.records {
		var probe map[string]any
		if err := unmarshalInput(rec.Input, &probe); err != nil {
			continue
		}
		if s, ok := probe[jsonKey].(string); ok && s == value {
			out = append(out, copyRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (m *MemoryStore) PendingEvents(_ context.Context, limit int) ([]emit.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := len(m.pendingEvents)
	if limit > 0 && limit < count {
		count = limit
	}
	out := make([]emit.Event, count)
	copy(out, m.pendingEvents[:count])
	return out, nil
}

func (m *MemoryStore) MarkEventsEmitted(_ context.Context, eventIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(eventIDs) == 0 {
		return nil
	}
	remove := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		remove[id] = true
	}

	filtered := m.pendingEvents[:0:0]
	newIndex := make(map[string]int)
	for _, ev := range m.pendingEvents {
		id, _ := ev.Meta["event_id"].(string)
		if remove[id] {
			continue
		}
		newIndex[id] = len(filtered)
		filtered = append(filtered, ev)
	}
	m.pendingEvents = filtered
	m.eventIDs = newIndex
	return nil
}

// Enqueue appends an event to the transactional outbox. The engine calls it
// alongside emitter.Emit, sharing the same Event value -- Enqueue must not
// mutate ev.Meta in place, since the Emitter may hold the same map by
// reference (BufferedEmitter stores events for later querying).
func (m *MemoryStore) Enqueue(_ context.Context, ev emit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.eventSeq++
	meta := make(map[string]any, len(ev.Meta)+1)
	for k, v := range ev.Meta {
		meta[k] = v
	}
	if _, ok := meta["event_id"]; !ok {
		meta["event_id"] = eventIDFor(m.eventSeq)
	}
	ev.Meta = meta
	m.pendingEvents = append(m.pendingEvents, ev)
	if id, ok := meta["event_id"].(string); ok {
		m.eventIDs[id] = len(m.pendingEvents) - 1
	}
	return nil
}

func cloneProgress(p map[string]any) map[string]any {
	cp := make(map[string]any, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

func copyRecord(rec *wf.WorkflowRecord) *wf.WorkflowRecord {
	cp := *rec
	cp.Progress = cloneProgress(rec.Progress)
	if rec.Error != nil {
		e := *rec.Error
		cp.Error = &e
	}
	return &cp
}
