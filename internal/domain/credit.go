package domain

import "time"

// CreditAccount tracks the spendable balance for one owner. The balance is
// mutated only through the ledger; it never goes negative.
type CreditAccount struct {
	OwnerID   string
	Balance   int
	UpdatedAt time.Time
}

// CreditTransaction is the immutable audit record written once per ledger
// operation. Delta is negative for deductions and positive for grants and
// refunds. The owner's balance always equals the sum of its deltas.
type CreditTransaction struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	Ref       string    `json:"ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger reason codes.
const (
	CreditReasonGeneration = "batch_generation"
	CreditReasonRefinement = "asset_refinement"
	CreditReasonRefund     = "admission_refund"
	CreditReasonSignup     = "signup_grant"
)
