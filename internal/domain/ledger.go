package domain

import (
	"context"
	"time"
)

// BalanceKind selects which of a user's two balances funds an operation.
type BalanceKind string

const (
	// BalancePrimary is the user's spendable points balance.
	BalancePrimary BalanceKind = "primary"
	// BalanceBuffer is the user's liquidity buffer deposit. Stakes funded
	// from it earn the settlement bonus but withdrawals are time-locked.
	BalanceBuffer BalanceKind = "buffer"
)

// Balances is a snapshot of a user's account.
type Balances struct {
	Primary           float64
	Buffer            float64
	LastBufferDeposit *time.Time
}

// BalanceLedger is the external balance collaborator. Debit returns
// ErrInsufficientBalance when the selected balance cannot cover the amount;
// it never leaves a partial deduction.
type BalanceLedger interface {
	Debit(ctx context.Context, userID string, kind BalanceKind, amount float64) error
	Credit(ctx context.Context, userID string, kind BalanceKind, amount float64) error
	Balances(ctx context.Context, userID string) (Balances, error)
	// TransferToBuffer moves funds from the primary balance into the buffer
	// and stamps the deposit time used for the withdrawal lockout.
	TransferToBuffer(ctx context.Context, userID string, amount float64) error
	// TransferFromBuffer moves funds back to the primary balance. Lockout
	// enforcement is the caller's responsibility.
	TransferFromBuffer(ctx context.Context, userID string, amount float64) error
}
