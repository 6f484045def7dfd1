package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/square-1111/LogoKraft/internal/domain"
)

// CreditLedgerMem is an in-memory domain.CreditLedger for tests and
// development without PostgreSQL. A single mutex guards both the balances
// and the audit log so check-and-deduct stays atomic under concurrency.
type CreditLedgerMem struct {
	mu       sync.Mutex
	balances map[string]int
	log      []domain.CreditTransaction
}

// NewCreditLedgerMem constructs an empty in-memory ledger.
func NewCreditLedgerMem() *CreditLedgerMem {
	return &CreditLedgerMem{balances: make(map[string]int)}
}

// CheckAndDeduct atomically verifies and deducts; insufficient balance
// leaves the account and the audit log untouched.
func (l *CreditLedgerMem) CheckAndDeduct(ctx context.Context, ownerID string, amount int, reason, ref string) error {
	if amount <= 0 {
		return fmt.Errorf("deduct amount must be positive, got %d", amount)
	}
	return l.apply(ctx, ownerID, -amount, reason, ref)
}

// Refund returns previously deducted credits.
func (l *CreditLedgerMem) Refund(ctx context.Context, ownerID string, amount int, reason, ref string) error {
	if amount <= 0 {
		return fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	return l.apply(ctx, ownerID, amount, reason, ref)
}

// Grant adds credits to an account, creating it when missing.
func (l *CreditLedgerMem) Grant(ctx context.Context, ownerID string, amount int, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	return l.apply(ctx, ownerID, amount, reason, "")
}

// GrantOnce applies the grant only when the owner has no transaction with
// the same reason yet.
func (l *CreditLedgerMem) GrantOnce(ctx context.Context, ownerID string, amount int, reason string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, t := range l.log {
		if t.OwnerID == ownerID && t.Reason == reason {
			return false, nil
		}
	}
	l.balances[ownerID] += amount
	l.log = append(l.log, domain.CreditTransaction{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Delta:     amount,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	})
	return true, nil
}

func (l *CreditLedgerMem) apply(ctx context.Context, ownerID string, delta int, reason, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balances[ownerID]+delta < 0 {
		return domain.ErrInsufficientCredits
	}
	l.balances[ownerID] += delta
	l.log = append(l.log, domain.CreditTransaction{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Delta:     delta,
		Reason:    reason,
		Ref:       ref,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// Balance returns the current balance, zero for unknown owners.
func (l *CreditLedgerMem) Balance(ctx context.Context, ownerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[ownerID], nil
}

// Transactions returns the audit trail for the owner, oldest first.
func (l *CreditLedgerMem) Transactions(ctx context.Context, ownerID string) ([]domain.CreditTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var txs []domain.CreditTransaction
	for _, t := range l.log {
		if t.OwnerID == ownerID {
			txs = append(txs, t)
		}
	}
	return txs, nil
}

var _ domain.CreditLedger = (*CreditLedgerMem)(nil)
