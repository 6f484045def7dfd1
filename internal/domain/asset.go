package domain

import "time"

// AssetStatus enumerates the lifecycle states of a generated asset.
type AssetStatus string

const (
	AssetStatusPending    AssetStatus = "pending"
	AssetStatusGenerating AssetStatus = "generating"
	AssetStatusCompleted  AssetStatus = "completed"
	AssetStatusFailed     AssetStatus = "failed"
)

// assetTransitions is the closed transition table. Anything not listed here
// is an invariant violation and must be rejected by the store.
var assetTransitions = map[AssetStatus][]AssetStatus{
	AssetStatusPending:    {AssetStatusGenerating, AssetStatusFailed},
	AssetStatusGenerating: {AssetStatusCompleted, AssetStatusFailed},
	AssetStatusCompleted:  {},
	AssetStatusFailed:     {},
}

// IsTerminal reports whether no further transitions are possible.
func (s AssetStatus) IsTerminal() bool {
	return s == AssetStatusCompleted || s == AssetStatusFailed
}

// CanTransition reports whether the move from s to next is permitted by the
// lifecycle table. pending -> failed is allowed so a batch deadline can
// force-fail items that never claimed a slot.
func (s AssetStatus) CanTransition(next AssetStatus) bool {
	for _, allowed := range assetTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Asset is one unit of generative work within a batch.
type Asset struct {
	ID            string
	BatchID       string
	ProjectID     string
	ParentAssetID string
	Prompt        string
	Status        AssetStatus
	ResultRef     string
	ErrorDetail   string
	RetryCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TransitionPayload carries the data applied alongside a status change.
// ResultRef is honored only for completed, ErrorDetail only for failed.
type TransitionPayload struct {
	ResultRef   string
	ErrorDetail string
	RetryCount  int
}
