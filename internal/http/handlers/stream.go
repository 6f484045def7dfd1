package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/square-1111/LogoKraft/internal/domain"
)

const streamHeartbeatInterval = 15 * time.Second

// BatchStream serves the batch progress feed over Server-Sent Events.
// It writes one snapshot event first, then the live tail. Events emitted
// between the snapshot read and the subscription may repeat state the
// snapshot already carried; clients treat item updates as idempotent.
func (a *App) BatchStream(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	if batchID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "batch_id required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	// Subscribe before reading the snapshot so no transition between the
	// two is lost. Duplicates are possible, gaps are not.
	sub := a.Hub.Subscribe(batchID)
	defer sub.Close()

	snapshot, err := a.Assets.GetBatchSnapshot(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "batch not found")
			return
		}
		a.Logger.Error().Err(err).Str("batch_id", batchID).Msg("handlers: stream snapshot failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load batch")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, "snapshot", snapshotPayload(batchID, snapshot))
	flusher.Flush()

	if batchFinished(snapshot) {
		// Terminal batches get the snapshot only. The live feed is
		// already closed and there is nothing left to tail.
		writeSSE(w, string(domain.EventBatchComplete), completionFromSnapshot(batchID, snapshot))
		flusher.Flush()
		return
	}

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-sub.C:
			if !open {
				return
			}
			writeSSE(w, string(ev.Type), ev)
			flusher.Flush()
			if ev.Type == domain.EventBatchComplete {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func batchFinished(assets []domain.Asset) bool {
	for _, asset := range assets {
		if !asset.Status.IsTerminal() {
			return false
		}
	}
	return true
}

func completionFromSnapshot(batchID string, assets []domain.Asset) domain.ProgressEvent {
	ev := domain.ProgressEvent{
		Type:       domain.EventBatchComplete,
		BatchID:    batchID,
		TotalCount: len(assets),
		Timestamp:  time.Now().UTC(),
	}
	for _, asset := range assets {
		switch asset.Status {
		case domain.AssetStatusCompleted:
			ev.CompletedCount++
		case domain.AssetStatusFailed:
			ev.FailedCount++
		}
	}
	return ev
}
