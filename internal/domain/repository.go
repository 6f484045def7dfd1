package domain

import "context"

// AssetRepository persists generation items and enforces the lifecycle state
// machine. Transition is the sole status mutator; implementations reject
// moves the transition table does not allow with ErrInvalidTransition and
// leave the stored record untouched.
type AssetRepository interface {
	CreateBatch(ctx context.Context, batch *Batch, prompts []string, parentAssetID string) ([]Asset, error)
	Transition(ctx context.Context, assetID string, next AssetStatus, payload TransitionPayload) (*Asset, error)
	GetAsset(ctx context.Context, assetID string) (*Asset, error)
	GetBatchSnapshot(ctx context.Context, batchID string) ([]Asset, error)
}

// CreditLedger is the atomic check-and-deduct primitive gating admission.
// CheckAndDeduct must be atomic with respect to concurrent calls for the
// same owner and returns ErrInsufficientCredits without mutating anything
// when the balance does not cover amount.
type CreditLedger interface {
	CheckAndDeduct(ctx context.Context, ownerID string, amount int, reason, ref string) error
	Refund(ctx context.Context, ownerID string, amount int, reason, ref string) error
	Grant(ctx context.Context, ownerID string, amount int, reason string) error
	// GrantOnce applies the grant only if no transaction with the same
	// reason exists for the owner. Reports whether credits were granted.
	GrantOnce(ctx context.Context, ownerID string, amount int, reason string) (bool, error)
	Balance(ctx context.Context, ownerID string) (int, error)
	Transactions(ctx context.Context, ownerID string) ([]CreditTransaction, error)
}
