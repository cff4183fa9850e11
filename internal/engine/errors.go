package engine

import "errors"

// Error kinds shared by the matcher and the liquidity pool. Callers match
// them with errors.Is; operations wrap them with the offending value.
var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrZeroReserve           = errors.New("zero reserve")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrder          = errors.New("invalid order")
	ErrInvalidFee            = errors.New("invalid fee")
)
