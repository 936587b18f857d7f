package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidOutcome      = errors.New("invalid outcome")
	ErrInvalidStake        = errors.New("stake must be positive")
	ErrInsufficientStake   = errors.New("stake too small to mint shares")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidPoolState    = errors.New("invalid pool state")
	ErrInsufficientShares  = errors.New("insufficient lp shares")
	ErrMarketFrozen        = errors.New("market resolved and frozen")
	ErrMarketNotResolved   = errors.New("market not resolved")
	ErrAlreadySettled      = errors.New("prediction already settled")
	ErrWithdrawLocked      = errors.New("buffer withdrawal inside lockout window")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
)
