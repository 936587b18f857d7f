package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civicpulse/marketd/internal/domain"
)

// BalanceStore implements domain.BalanceLedger using PostgreSQL. Debits are
// single conditional UPDATEs, so a balance can never go negative and a failed
// debit deducts nothing.
type BalanceStore struct {
	pool *pgxpool.Pool
}

// NewBalanceStore creates a BalanceStore backed by the given pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

func balanceColumn(kind domain.BalanceKind) string {
	if kind == domain.BalanceBuffer {
		return "buffer_balance"
	}
	return "primary_balance"
}

// Debit subtracts amount from the selected balance. It returns
// domain.ErrInsufficientBalance when the balance cannot cover the amount.
func (s *BalanceStore) Debit(ctx context.Context, userID string, kind domain.BalanceKind, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("postgres: debit %s: %w: %g", userID, domain.ErrInvalidStake, amount)
	}

	col := balanceColumn(kind)
	query := fmt.Sprintf(`
		UPDATE balances SET %s = %s - $2, updated_at = NOW()
		WHERE user_id = $1 AND %s >= $2`, col, col, col)

	tag, err := s.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: debit %s: %w", userID, domain.ErrInsufficientBalance)
	}
	return nil
}

// Credit adds amount to the selected balance, creating the account row on
// first use.
func (s *BalanceStore) Credit(ctx context.Context, userID string, kind domain.BalanceKind, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("postgres: credit %s: %w: %g", userID, domain.ErrInvalidStake, amount)
	}

	col := balanceColumn(kind)
	query := fmt.Sprintf(`
		INSERT INTO balances (user_id, %s, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			%s = balances.%s + EXCLUDED.%s,
			updated_at = NOW()`, col, col, col, col)

	if _, err := s.pool.Exec(ctx, query, userID, amount); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", userID, err)
	}
	return nil
}

// Balances returns a snapshot of a user's account. Unknown users read as
// empty accounts.
func (s *BalanceStore) Balances(ctx context.Context, userID string) (domain.Balances, error) {
	const query = `
		SELECT primary_balance, buffer_balance, last_buffer_deposit
		FROM balances WHERE user_id = $1`

	var b domain.Balances
	err := s.pool.QueryRow(ctx, query, userID).Scan(&b.Primary, &b.Buffer, &b.LastBufferDeposit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Balances{}, nil
		}
		return domain.Balances{}, fmt.Errorf("postgres: balances %s: %w", userID, err)
	}
	return b, nil
}

// TransferToBuffer atomically moves amount from the primary balance into the
// buffer and stamps the deposit time used for the withdrawal lockout.
func (s *BalanceStore) TransferToBuffer(ctx context.Context, userID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("postgres: buffer transfer %s: %w: %g", userID, domain.ErrInvalidStake, amount)
	}

	const query = `
		UPDATE balances SET
			primary_balance     = primary_balance - $2,
			buffer_balance      = buffer_balance + $2,
			last_buffer_deposit = NOW(),
			updated_at          = NOW()
		WHERE user_id = $1 AND primary_balance >= $2`

	tag, err := s.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("postgres: buffer transfer %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: buffer transfer %s: %w", userID, domain.ErrInsufficientBalance)
	}
	return nil
}

// TransferFromBuffer atomically moves amount back to the primary balance.
// The caller enforces the lockout window.
func (s *BalanceStore) TransferFromBuffer(ctx context.Context, userID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("postgres: buffer transfer %s: %w: %g", userID, domain.ErrInvalidStake, amount)
	}

	const query = `
		UPDATE balances SET
			primary_balance = primary_balance + $2,
			buffer_balance  = buffer_balance - $2,
			updated_at      = NOW()
		WHERE user_id = $1 AND buffer_balance >= $2`

	tag, err := s.pool.Exec(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("postgres: buffer transfer %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: buffer transfer %s: %w", userID, domain.ErrInsufficientBalance)
	}
	return nil
}

// Compile-time interface check.
var _ domain.BalanceLedger = (*BalanceStore)(nil)
