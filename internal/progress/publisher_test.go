package progress

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/square-1111/LogoKraft/internal/domain"
)

func testEvent(batchID string, n int) domain.ProgressEvent {
	return domain.ProgressEvent{
		Type:           domain.EventStateChanged,
		BatchID:        batchID,
		CompletedCount: n,
		Timestamp:      time.Now().UTC(),
	}
}

func TestHubFansOutToAllSubscribers(t *testing.T) {
	hub := NewHub(8, zerolog.Nop())

	first := hub.Subscribe("batch-1")
	second := hub.Subscribe("batch-1")
	other := hub.Subscribe("batch-2")
	defer first.Close()
	defer second.Close()
	defer other.Close()

	hub.Emit(testEvent("batch-1", 1))

	for _, sub := range []*Subscription{first, second} {
		select {
		case ev := <-sub.C:
			if ev.BatchID != "batch-1" || ev.CompletedCount != 1 {
				t.Fatalf("unexpected event: %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber did not receive the event")
		}
	}

	select {
	case ev := <-other.C:
		t.Fatalf("batch-2 subscriber received foreign event: %+v", ev)
	default:
	}
}

func TestHubDropsOldestWhenBufferFull(t *testing.T) {
	hub := NewHub(2, zerolog.Nop())
	sub := hub.Subscribe("batch-1")
	defer sub.Close()

	hub.Emit(testEvent("batch-1", 1))
	hub.Emit(testEvent("batch-1", 2))
	hub.Emit(testEvent("batch-1", 3)) // displaces event 1

	got := []int{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.C:
			got = append(got, ev.CompletedCount)
		case <-time.After(time.Second):
			t.Fatalf("missing buffered event, got %v", got)
		}
	}
	if got[0] != 2 || got[1] != 3 {
		t.Fatalf("buffered events = %v, want [2 3]", got)
	}
}

func TestHubEmitNeverBlocks(t *testing.T) {
	hub := NewHub(1, zerolog.Nop())
	sub := hub.Subscribe("batch-1")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Emit(testEvent("batch-1", i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Emit blocked on a slow subscriber")
	}
}

func TestHubCloseBatchDrainsBufferedEvents(t *testing.T) {
	hub := NewHub(8, zerolog.Nop())
	sub := hub.Subscribe("batch-1")

	hub.Emit(testEvent("batch-1", 1))
	hub.Emit(domain.ProgressEvent{Type: domain.EventBatchComplete, BatchID: "batch-1"})
	hub.CloseBatch("batch-1")

	var events []domain.ProgressEvent
	for ev := range sub.C {
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("drained %d events, want 2", len(events))
	}
	if events[len(events)-1].Type != domain.EventBatchComplete {
		t.Fatalf("last event = %s, want %s", events[len(events)-1].Type, domain.EventBatchComplete)
	}
	if hub.SubscriberCount("batch-1") != 0 {
		t.Fatalf("subscribers remain after CloseBatch")
	}
}

func TestHubLateSubscriberSeesOnlyTail(t *testing.T) {
	hub := NewHub(8, zerolog.Nop())

	hub.Emit(testEvent("batch-1", 1)) // no subscriber yet, nothing retained

	sub := hub.Subscribe("batch-1")
	defer sub.Close()
	hub.Emit(testEvent("batch-1", 2))

	select {
	case ev := <-sub.C:
		if ev.CompletedCount != 2 {
			t.Fatalf("late subscriber got %d, want 2", ev.CompletedCount)
		}
	case <-time.After(time.Second):
		t.Fatalf("late subscriber did not receive the tail event")
	}
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected replayed event: %+v", ev)
	default:
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub(8, zerolog.Nop())
	sub := hub.Subscribe("batch-1")
	sub.Close()
	sub.Close()
	hub.CloseBatch("batch-1")
}
