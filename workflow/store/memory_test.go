package store

import (
	"context"
	"testing"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow/emit"
)

func TestMemoryStore_Outbox_EnqueueAndReplay(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Enqueue(ctx, emit.Event{RunID: "rec-001", Step: 0, NodeID: "register_validator", Msg: "STEP_STARTED"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Enqueue(ctx, emit.Event{RunID: "rec-001", Step: 1, NodeID: "register_validator", Msg: "STEP_RETRY", Meta: map[string]any{"reason": "transient"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pending, err := s.PendingEvents(ctx, 0)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending events, got %d", len(pending))
	}
	if pending[0].Msg != "STEP_STARTED" || pending[1].Msg != "STEP_RETRY" {
		t.Fatalf("unexpected order: %+v", pending)
	}

	var ids []string
	for _, ev := range pending {
		id, ok := ev.Meta["event_id"].(string)
		if !ok || id == "" {
			t.Fatalf("event missing event_id: %+v", ev)
		}
		ids = append(ids, id)
	}

	if err := s.MarkEventsEmitted(ctx, ids[:1]); err != nil {
		t.Fatalf("MarkEventsEmitted: %v", err)
	}

	remaining, err := s.PendingEvents(ctx, 0)
	if err != nil {
		t.Fatalf("PendingEvents after mark: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining event, got %d", len(remaining))
	}
	if remaining[0].Msg != "STEP_RETRY" {
		t.Errorf("expected STEP_RETRY to remain, got %q", remaining[0].Msg)
	}
}

func TestMemoryStore_Outbox_Limit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Enqueue(ctx, emit.Event{RunID: "rec-001", NodeID: "submit_score", Msg: "STEP_STARTED"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	pending, err := s.PendingEvents(ctx, 2)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected limit to cap at 2, got %d", len(pending))
	}
}

func TestMemoryStore_Outbox_MarkEmptyIsNoop(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Enqueue(ctx, emit.Event{RunID: "rec-001", Msg: "STEP_STARTED"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.MarkEventsEmitted(ctx, nil); err != nil {
		t.Fatalf("MarkEventsEmitted(nil): %v", err)
	}

	pending, err := s.PendingEvents(ctx, 0)
	if err != nil {
		t.Fatalf("PendingEvents: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected the event to still be pending, got %d", len(pending))
	}
}
