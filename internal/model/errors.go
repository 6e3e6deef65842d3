package model

import "github.com/pkg/errors"

var (
	ErrPositionNotFound  = errors.New("position not found")
	ErrPositionExists    = errors.New("position already exists")
	ErrInvalidEntryPrice = errors.New("entry price must be positive")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrLockTimeout       = errors.New("lock not acquired")
	ErrNoTokens          = errors.New("no tokens to sell")
	ErrInvalidRung       = errors.New("invalid take-profit rung")
	ErrTradeFailed       = errors.New("trade failed")
	ErrUserNotAllowed    = errors.New("user not allowed")
)
