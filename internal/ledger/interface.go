// Package ledger is the boundary to the on-chain exchange program. The
// ledger is authoritative for balances and settlement; the simulation in
// internal/engine never writes to it.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPairNotFound     = errors.New("pair not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrPairInactive     = errors.New("pair is not active")
	ErrExchangePaused   = errors.New("exchange is paused")
	ErrSlippageExceeded = errors.New("slippage tolerance exceeded")
	ErrOrderNotActive   = errors.New("order is not active")
	ErrInvalidRequest   = errors.New("invalid ledger request")
	ErrUnauthorized     = errors.New("unauthorized")
)

type Ledger interface {
	FetchExchange(ctx context.Context) (Exchange, error)
	FetchPair(ctx context.Context, pairID string) (Pair, error)
	ListPairs(ctx context.Context) ([]Pair, error)
	FetchOrder(ctx context.Context, orderID string) (OrderRecord, error)
	UserOrders(ctx context.Context, user string) ([]OrderRecord, error)
	SubmitOrder(ctx context.Context, order OrderRecord) error
	SubmitSwap(ctx context.Context, req SwapRequest) (SwapReceipt, error)
	// SubmitCancel deactivates an order on behalf of user, who must own it.
	SubmitCancel(ctx context.Context, orderID, user string) error
}

type Exchange struct {
	Address            string          `json:"address,omitempty"`
	Authority          string          `json:"authority"`
	FeeBasisPoints     uint16          `json:"fee_basis_points"`
	TotalVolume        decimal.Decimal `json:"total_volume"`
	TotalFeesCollected decimal.Decimal `json:"total_fees_collected"`
	IsPaused           bool            `json:"is_paused"`
}

// Pair is a trading pair account. Reserves are in each token's smallest
// unit. Address is derived from the mints when both are set.
type Pair struct {
	ID           string          `json:"id"`
	Address      string          `json:"address,omitempty"`
	BaseMint     string          `json:"base_mint"`
	QuoteMint    string          `json:"quote_mint"`
	BaseReserve  decimal.Decimal `json:"base_reserve"`
	QuoteReserve decimal.Decimal `json:"quote_reserve"`
	TotalVolume  decimal.Decimal `json:"total_volume"`
	IsActive     bool            `json:"is_active"`
}

// Price is quote per base, zero while the pair has no base reserve.
func (p Pair) Price() decimal.Decimal {
	if p.BaseReserve.IsZero() {
		return decimal.Zero
	}
	return p.QuoteReserve.Div(p.BaseReserve)
}

type OrderRecord struct {
	ID           string          `json:"id"`
	User         string          `json:"user"`
	Pair         string          `json:"pair"`
	Side         string          `json:"side"`
	OrderType    string          `json:"order_type"`
	Amount       decimal.Decimal `json:"amount"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	Price        decimal.Decimal `json:"price"`
	Timestamp    time.Time       `json:"timestamp"`
	IsActive     bool            `json:"is_active"`
}

// SwapRequest swaps AmountIn of the input token. BaseToQuote selects the
// direction; the ledger rejects the swap when the output would fall below
// MinimumAmountOut.
type SwapRequest struct {
	Pair             string          `json:"pair"`
	User             string          `json:"user"`
	AmountIn         decimal.Decimal `json:"amount_in"`
	MinimumAmountOut decimal.Decimal `json:"minimum_amount_out"`
	BaseToQuote      bool            `json:"base_to_quote"`
}

type SwapReceipt struct {
	AmountIn  decimal.Decimal `json:"amount_in"`
	AmountOut decimal.Decimal `json:"amount_out"`
	Fee       decimal.Decimal `json:"fee"`
}
