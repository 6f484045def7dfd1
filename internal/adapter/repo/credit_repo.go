package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/square-1111/LogoKraft/internal/domain"
)

// CreditLedgerPG implements domain.CreditLedger using PostgreSQL. Atomicity
// is per owner: the deduction is a conditional row update inside the same
// transaction that writes the audit record, so two concurrent requests
// against the same account serialize on the row lock and the balance can
// never go negative.
type CreditLedgerPG struct {
	pool *pgxpool.Pool
}

// NewCreditLedger constructs a new ledger backed by PostgreSQL.
func NewCreditLedger(pool *pgxpool.Pool) *CreditLedgerPG {
	return &CreditLedgerPG{pool: pool}
}

// CheckAndDeduct atomically verifies the balance covers amount and deducts
// it, writing one immutable transaction record. Returns
// domain.ErrInsufficientCredits without side effects when it does not.
func (l *CreditLedgerPG) CheckAndDeduct(ctx context.Context, ownerID string, amount int, reason, ref string) error {
	if amount <= 0 {
		return fmt.Errorf("deduct amount must be positive, got %d", amount)
	}
	return l.apply(ctx, ownerID, -amount, reason, ref)
}

// Refund returns previously deducted credits and records the audit row.
func (l *CreditLedgerPG) Refund(ctx context.Context, ownerID string, amount int, reason, ref string) error {
	if amount <= 0 {
		return fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	return l.apply(ctx, ownerID, amount, reason, ref)
}

// Grant adds credits to an account, creating it when missing.
func (l *CreditLedgerPG) Grant(ctx context.Context, ownerID string, amount int, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	return l.apply(ctx, ownerID, amount, reason, "")
}

// GrantOnce applies the grant only when the owner has no transaction with
// the same reason yet. The existence check and the insert run in one
// transaction, so concurrent calls cannot double-grant.
func (l *CreditLedgerPG) GrantOnce(ctx context.Context, ownerID string, amount int, reason string) (bool, error) {
	if amount <= 0 {
		return false, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
INSERT INTO credit_transactions (id, owner_id, delta, reason, ref)
SELECT $1, $2, $3, $4, NULL
WHERE NOT EXISTS (
	SELECT 1 FROM credit_transactions WHERE owner_id = $2 AND reason = $4
);
`, uuid.NewString(), ownerID, amount, reason)
	if err != nil {
		return false, fmt.Errorf("record grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO credit_accounts (owner_id, balance, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (owner_id) DO UPDATE SET balance = credit_accounts.balance + $2, updated_at = NOW();
`, ownerID, amount); err != nil {
		return false, fmt.Errorf("credit account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit ledger tx: %w", err)
	}
	return true, nil
}

func (l *CreditLedgerPG) apply(ctx context.Context, ownerID string, delta int, reason, ref string) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if delta > 0 {
		if _, err := tx.Exec(ctx, `
INSERT INTO credit_accounts (owner_id, balance, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (owner_id) DO UPDATE SET balance = credit_accounts.balance + $2, updated_at = NOW();
`, ownerID, delta); err != nil {
			return fmt.Errorf("credit account: %w", err)
		}
	} else {
		tag, err := tx.Exec(ctx, `
UPDATE credit_accounts
SET balance = balance + $2, updated_at = NOW()
WHERE owner_id = $1 AND balance + $2 >= 0;
`, ownerID, delta)
		if err != nil {
			return fmt.Errorf("debit account: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrInsufficientCredits
		}
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO credit_transactions (id, owner_id, delta, reason, ref)
VALUES ($1, $2, $3, $4, NULLIF($5, ''));
`, uuid.NewString(), ownerID, delta, reason, ref); err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// Balance returns the current balance for the owner, zero when the account
// does not exist yet.
func (l *CreditLedgerPG) Balance(ctx context.Context, ownerID string) (int, error) {
	var balance int
	err := l.pool.QueryRow(ctx, `
SELECT balance FROM credit_accounts WHERE owner_id = $1;
`, ownerID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Transactions returns the full audit trail for the owner, oldest first.
func (l *CreditLedgerPG) Transactions(ctx context.Context, ownerID string) ([]domain.CreditTransaction, error) {
	rows, err := l.pool.Query(ctx, `
SELECT id, owner_id, delta, reason, COALESCE(ref, ''), created_at
FROM credit_transactions
WHERE owner_id = $1
ORDER BY created_at ASC, id ASC;
`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.CreditTransaction
	for rows.Next() {
		var t domain.CreditTransaction
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Delta, &t.Reason, &t.Ref, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
