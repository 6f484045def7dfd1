package domain

import "time"

// ProgressEventType enumerates the events published on a batch feed.
type ProgressEventType string

const (
	EventBatchStarted  ProgressEventType = "batch_started"
	EventStateChanged  ProgressEventType = "state_changed"
	EventBatchComplete ProgressEventType = "batch_complete"
)

// ProgressEvent is the shape any transport (SSE, WebSocket, polling) renders
// to clients. Item fields are empty on batch-level events.
type ProgressEvent struct {
	Type           ProgressEventType `json:"type"`
	BatchID        string            `json:"batch_id"`
	AssetID        string            `json:"asset_id,omitempty"`
	Status         AssetStatus       `json:"status,omitempty"`
	ResultRef      string            `json:"result_ref,omitempty"`
	Error          string            `json:"error,omitempty"`
	CompletedCount int               `json:"completed_count"`
	FailedCount    int               `json:"failed_count"`
	TotalCount     int               `json:"total_count"`
	Timestamp      time.Time         `json:"timestamp"`
}
