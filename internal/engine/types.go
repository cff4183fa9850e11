package engine

import (
	"fmt"
	"strings"
	"time"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return fmt.Sprintf("side(%d)", int(s))
}

func (s Side) MarshalText() ([]byte, error) {
	if s != Buy && s != Sell {
		return nil, fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, int(s))
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSide accepts "buy"/"sell" in any case, plus the "bid"/"ask" aliases.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "bid":
		return Buy, nil
	case "sell", "ask":
		return Sell, nil
	}
	return 0, fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s)
}

// Order represents a limit order in the orderbook
type Order struct {
	ID           string    `json:"id"`
	User         string    `json:"user"`
	Pair         string    `json:"pair"`
	Side         Side      `json:"side"`
	Amount       float64   `json:"amount"` // Original amount of the order
	Price        float64   `json:"price"`
	Timestamp    time.Time `json:"timestamp"`
	FilledAmount float64   `json:"filled_amount"` // Amount of the order that has been filled
	IsActive     bool      `json:"is_active"`
}

// Remaining is the unfilled part of the order.
func (o *Order) Remaining() float64 {
	return o.Amount - o.FilledAmount
}

// Trade records one match between a resting bid and a resting ask
type Trade struct {
	BuyOrderID  string    `json:"buy_order_id"`
	SellOrderID string    `json:"sell_order_id"`
	Pair        string    `json:"pair"`
	Price       float64   `json:"price"`
	Amount      float64   `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

func (t Trade) Total() float64 {
	return t.Price * t.Amount
}

// TradeSink receives every trade the matcher produces, in match order.
// It is called synchronously from inside AddOrder.
type TradeSink interface {
	OnTrade(Trade)
}

type TradeSinkFunc func(Trade)

func (f TradeSinkFunc) OnTrade(t Trade) { f(t) }

// Level is one order projected for book display
type Level struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
	Total  float64 `json:"total"`
}

// Book is a pair's bids (best first) and asks (best first)
type Book struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Depth is a truncated Book plus the best ask minus best bid spread
type Depth struct {
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
	Spread float64 `json:"spread"`
}
