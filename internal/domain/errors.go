package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidBookUpdate   = errors.New("invalid book update")
	ErrCrossedBook         = errors.New("crossed book")
	ErrStaleSequence       = errors.New("stale or out-of-order sequence number")
	ErrInvalidTradeRequest = errors.New("invalid trade request")
	ErrInvalidHorizon      = errors.New("invalid time horizon")
	ErrModelUntrained      = errors.New("model untrained")
	ErrInsufficientData    = errors.New("insufficient training data")
	ErrDegenerateData      = errors.New("degenerate training data")
	ErrRateLimited         = errors.New("rate limited")
	ErrContextDone         = errors.New("context cancelled")
)
