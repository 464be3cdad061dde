package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrMarketEnded         = errors.New("market has ended")
	ErrMarketNotActive     = errors.New("market is not active")
	ErrOutcomeNotFound     = errors.New("outcome not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotWinning          = errors.New("prediction is not a winner")
	ErrAlreadyClaimed      = errors.New("reward already claimed")
	ErrNotPending          = errors.New("transaction is not pending")
	ErrReturnWindowExpired = errors.New("return window expired")
	ErrMissingNonce        = errors.New("missing on-chain identifier")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrValidation          = errors.New("validation failed")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
)
