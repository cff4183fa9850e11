package engine

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// DefaultDepthLevels is the number of entries per side MarketDepth returns
// when the caller asks for zero or fewer.
const DefaultDepthLevels = 10

// OrderMatcher keeps one limit order book per trading pair and matches
// crossing orders with price-time priority. It does no locking; callers
// serialize access.
type OrderMatcher struct {
	books  map[string]*pairBook
	orders map[string]*Order // resting orders by id
	sink   TradeSink
	now    func() time.Time
}

type Option func(*OrderMatcher)

// WithTradeSink sets the receiver of trade events.
func WithTradeSink(sink TradeSink) Option {
	return func(m *OrderMatcher) { m.sink = sink }
}

// WithClock overrides time.Now for order and trade timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *OrderMatcher) { m.now = now }
}

func NewOrderMatcher(opts ...Option) *OrderMatcher {
	m := &OrderMatcher{
		books:  make(map[string]*pairBook),
		orders: make(map[string]*Order),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddOrder rests the order in its pair's book and immediately runs a
// matching pass for that pair. The order is mutated in place as it fills.
func (m *OrderMatcher) AddOrder(o *Order) ([]Trade, error) {
	if err := m.validateOrder(o); err != nil {
		return nil, err
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = m.now()
	}
	o.IsActive = true

	book, ok := m.books[o.Pair]
	if !ok {
		book = newPairBook()
		m.books[o.Pair] = book
	}
	book.side(o.Side).insert(o)
	m.orders[o.ID] = o

	return m.MatchOrders(o.Pair), nil
}

func (m *OrderMatcher) validateOrder(o *Order) error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}
	if o.ID == "" || o.Pair == "" {
		return fmt.Errorf("%w: id and pair are required", ErrInvalidOrder)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, int(o.Side))
	}
	if _, exists := m.orders[o.ID]; exists {
		return fmt.Errorf("%w: duplicate order id %s", ErrInvalidOrder, o.ID)
	}
	if !positive(o.Price) {
		return fmt.Errorf("%w: price %v", ErrInvalidAmount, o.Price)
	}
	if !positive(o.Amount) {
		return fmt.Errorf("%w: amount %v", ErrInvalidAmount, o.Amount)
	}
	if o.FilledAmount < 0 || o.FilledAmount >= o.Amount || math.IsNaN(o.FilledAmount) {
		return fmt.Errorf("%w: filled amount %v of %v", ErrInvalidAmount, o.FilledAmount, o.Amount)
	}
	return nil
}

// MatchOrders crosses the pair's best bid against its best ask until the
// book is no longer crossed. Every match executes at the best ask's price.
func (m *OrderMatcher) MatchOrders(pair string) []Trade {
	book, ok := m.books[pair]
	if !ok {
		return nil
	}

	var trades []Trade
	for {
		bid := book.bids.head()
		ask := book.asks.head()
		if bid == nil || ask == nil || bid.Price < ask.Price {
			break
		}

		amount := min(bid.Remaining(), ask.Remaining())
		fill(bid, amount)
		fill(ask, amount)

		trade := Trade{
			BuyOrderID:  bid.ID,
			SellOrderID: ask.ID,
			Pair:        pair,
			Price:       ask.Price,
			Amount:      amount,
			Timestamp:   m.now(),
		}
		trades = append(trades, trade)
		if m.sink != nil {
			m.sink.OnTrade(trade)
		}

		if bid.Remaining() <= 0 {
			m.retire(book.bids, bid)
		}
		if ask.Remaining() <= 0 {
			m.retire(book.asks, ask)
		}
	}

	if book.empty() {
		delete(m.books, pair)
	}
	return trades
}

// dustFraction is the share of an order's amount below which a remainder
// counts as filled.
const dustFraction = 1e-12

// fill adds amount to the order's filled quantity, snapping to the original
// amount when it consumes the remainder so float error cannot leave dust.
func fill(o *Order, amount float64) {
	if o.Remaining()-amount <= o.Amount*dustFraction {
		o.FilledAmount = o.Amount
		return
	}
	o.FilledAmount += amount
}

func (m *OrderMatcher) retire(side *sideBook, o *Order) {
	side.remove(o.ID)
	delete(m.orders, o.ID)
	o.IsActive = false
}

// CancelOrder removes a resting order. It reports whether the order was
// found in the given pair and side.
func (m *OrderMatcher) CancelOrder(orderID, pair string, side Side) bool {
	book, ok := m.books[pair]
	if !ok {
		return false
	}
	if side != Buy && side != Sell {
		return false
	}
	o, ok := book.side(side).remove(orderID)
	if !ok {
		return false
	}
	delete(m.orders, orderID)
	o.IsActive = false
	if book.empty() {
		delete(m.books, pair)
	}
	return true
}

// Order returns a copy of a resting order.
func (m *OrderMatcher) Order(orderID string) (Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return *o, nil
}

// Pairs lists the pairs that currently have resting orders, sorted.
func (m *OrderMatcher) Pairs() []string {
	pairs := make([]string, 0, len(m.books))
	for pair := range m.books {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	return pairs
}

func (m *OrderMatcher) OrderBook(pair string) Book {
	book := Book{Bids: []Level{}, Asks: []Level{}}
	pb, ok := m.books[pair]
	if !ok {
		return book
	}
	book.Bids = project(pb.bids, -1)
	book.Asks = project(pb.asks, -1)
	return book
}

// MarketDepth returns at most levels entries per side. Spread is zero when
// either side is empty.
func (m *OrderMatcher) MarketDepth(pair string, levels int) Depth {
	if levels <= 0 {
		levels = DefaultDepthLevels
	}
	depth := Depth{Bids: []Level{}, Asks: []Level{}}
	pb, ok := m.books[pair]
	if !ok {
		return depth
	}
	depth.Bids = project(pb.bids, levels)
	depth.Asks = project(pb.asks, levels)
	if len(depth.Bids) > 0 && len(depth.Asks) > 0 {
		depth.Spread = depth.Asks[0].Price - depth.Bids[0].Price
	}
	return depth
}

// project lists up to limit orders best-first; a negative limit means all.
func project(side *sideBook, limit int) []Level {
	size := side.len()
	if limit >= 0 && limit < size {
		size = limit
	}
	out := make([]Level, 0, size)
	side.walk(func(o *Order) bool {
		if limit >= 0 && len(out) >= limit {
			return false
		}
		remaining := o.Remaining()
		out = append(out, Level{
			Price:  o.Price,
			Amount: remaining,
			Total:  o.Price * remaining,
		})
		return true
	})
	return out
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
