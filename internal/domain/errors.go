package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrMarketNotOpen       = errors.New("market not open")
	ErrAlreadyResolved     = errors.New("market already resolved")
	ErrInvalidOutcome      = errors.New("invalid outcome")
	ErrInvalidQuestion     = errors.New("question must not be empty")
	ErrInvalidCloseTime    = errors.New("close time must be in the future")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPoolDrained         = errors.New("trade would drain liquidity pool")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrLockHeld            = errors.New("lock already held")
	ErrNoEmbedding         = errors.New("no embedding available")
)
