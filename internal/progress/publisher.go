// Package progress fans generation events out to batch subscribers. The hub
// never blocks an emitter: each subscriber owns a bounded buffer and the
// oldest event is dropped when a slow consumer falls behind. Late
// subscribers reconcile through the asset store snapshot; the hub does not
// replay history.
package progress

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/square-1111/LogoKraft/internal/domain"
)

// DefaultSubscriberBuffer is the per-subscriber event buffer size used when
// the hub is constructed with a non-positive value.
const DefaultSubscriberBuffer = 32

// Subscription is one observer's live tail of a batch feed. C is closed when
// the batch feed shuts down or the subscriber unsubscribes.
type Subscription struct {
	C <-chan domain.ProgressEvent

	hub     *Hub
	batchID string
	ch      chan domain.ProgressEvent
	closed  bool
}

// Close unsubscribes and releases the channel. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub multiplexes progress events to any number of subscribers per batch.
type Hub struct {
	mu      sync.Mutex
	batches map[string]map[*Subscription]struct{}
	buffer  int
	logger  zerolog.Logger
}

// NewHub constructs a hub with the given per-subscriber buffer size.
func NewHub(buffer int, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		batches: make(map[string]map[*Subscription]struct{}),
		buffer:  buffer,
		logger:  logger,
	}
}

// Subscribe registers an observer for the batch and returns its live tail.
// Events emitted before Subscribe are not replayed.
func (h *Hub) Subscribe(batchID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		hub:     h,
		batchID: batchID,
		ch:      make(chan domain.ProgressEvent, h.buffer),
	}
	sub.C = sub.ch
	subs, ok := h.batches[batchID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.batches[batchID] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Emit broadcasts the event to every subscriber of its batch. Each
// subscriber receives the event independently; a full buffer drops that
// subscriber's oldest event rather than blocking the emitter.
func (h *Hub) Emit(ev domain.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.batches[ev.BatchID] {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		// Buffer full: drop the oldest event, then retry once. Sends
		// and closes are serialized by h.mu, so the retry can only
		// lose to the consumer, in which case the buffer has room.
		select {
		case <-sub.ch:
			h.logger.Warn().
				Str("batch_id", ev.BatchID).
				Msg("progress: slow subscriber, dropping oldest event")
		default:
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// CloseBatch closes every subscription for the batch. Buffered events,
// including the final batch_complete, remain readable until drained.
func (h *Hub) CloseBatch(batchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.batches[batchID] {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	delete(h.batches, batchID)
}

// SubscriberCount reports the current number of observers for a batch.
func (h *Hub) SubscriberCount(batchID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.batches[batchID])
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.batches[sub.batchID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.batches, sub.batchID)
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}
