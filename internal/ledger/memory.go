package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var basisPoints = decimal.NewFromInt(10000)

// Memory is an in-process ledger that applies the exchange program's
// checks. It backs local development and tests.
type Memory struct {
	mu        sync.RWMutex
	programID solana.PublicKey
	exchange  Exchange
	pairs     map[string]*Pair
	orders    map[string]*OrderRecord
}

func NewMemory(authority string, feeBasisPoints uint16) *Memory {
	m := &Memory{
		programID: DefaultProgramID,
		exchange: Exchange{
			Authority:      authority,
			FeeBasisPoints: feeBasisPoints,
		},
		pairs:  make(map[string]*Pair),
		orders: make(map[string]*OrderRecord),
	}
	if addr, _, err := ExchangeAddress(m.programID); err == nil {
		m.exchange.Address = addr.String()
	}
	return m
}

// CreatePair registers a pair. New pairs start active. When both mints are
// given they must be valid and distinct, and the pair's account address is
// derived from them.
func (m *Memory) CreatePair(p Pair) error {
	if p.ID == "" {
		return fmt.Errorf("%w: pair id is required", ErrInvalidRequest)
	}
	if p.BaseReserve.IsNegative() || p.QuoteReserve.IsNegative() {
		return fmt.Errorf("%w: negative reserves for %s", ErrInvalidRequest, p.ID)
	}
	if p.BaseMint != "" || p.QuoteMint != "" {
		base, quote, err := ParseMints(p.BaseMint, p.QuoteMint)
		if err != nil {
			return err
		}
		addr, _, err := PairAddress(m.programID, base, quote)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		p.Address = addr.String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pairs[p.ID]; exists {
		return fmt.Errorf("%w: pair %s already exists", ErrInvalidRequest, p.ID)
	}
	p.IsActive = true
	m.pairs[p.ID] = &p
	return nil
}

func (m *Memory) SetPaused(paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchange.IsPaused = paused
}

func (m *Memory) SetPairActive(pairID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairs[pairID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPairNotFound, pairID)
	}
	p.IsActive = active
	return nil
}

func (m *Memory) FetchExchange(ctx context.Context) (Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exchange, nil
}

func (m *Memory) FetchPair(ctx context.Context, pairID string) (Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pairs[pairID]
	if !ok {
		return Pair{}, fmt.Errorf("%w: %s", ErrPairNotFound, pairID)
	}
	return *p, nil
}

func (m *Memory) ListPairs(ctx context.Context) ([]Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pairs := make([]Pair, 0, len(m.pairs))
	for _, p := range m.pairs {
		pairs = append(pairs, *p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })
	return pairs, nil
}

func (m *Memory) FetchOrder(ctx context.Context, orderID string) (OrderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return OrderRecord{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return *o, nil
}

// UserOrders lists a user's orders, oldest first.
func (m *Memory) UserOrders(ctx context.Context, user string) ([]OrderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	orders := make([]OrderRecord, 0)
	for _, o := range m.orders {
		if o.User == user {
			orders = append(orders, *o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].Timestamp.Equal(orders[j].Timestamp) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].Timestamp.Before(orders[j].Timestamp)
	})
	return orders, nil
}

func (m *Memory) SubmitOrder(ctx context.Context, order OrderRecord) error {
	if order.ID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	if !order.Amount.IsPositive() || !order.Price.IsPositive() {
		return fmt.Errorf("%w: amount and price must be positive", ErrInvalidRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.tradablePair(order.Pair); err != nil {
		return err
	}
	if _, exists := m.orders[order.ID]; exists {
		return fmt.Errorf("%w: duplicate order %s", ErrInvalidRequest, order.ID)
	}
	order.IsActive = true
	m.orders[order.ID] = &order
	return nil
}

// SubmitSwap settles a constant-product swap in smallest token units. The
// fee is rounded up and the output rounded down.
func (m *Memory) SubmitSwap(ctx context.Context, req SwapRequest) (SwapReceipt, error) {
	if !req.AmountIn.IsPositive() {
		return SwapReceipt{}, fmt.Errorf("%w: amount in must be positive", ErrInvalidRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.tradablePair(req.Pair)
	if err != nil {
		return SwapReceipt{}, err
	}

	reserveIn, reserveOut := p.BaseReserve, p.QuoteReserve
	if !req.BaseToQuote {
		reserveIn, reserveOut = reserveOut, reserveIn
	}
	if !reserveIn.IsPositive() || !reserveOut.IsPositive() {
		return SwapReceipt{}, fmt.Errorf("%w: pair %s has no liquidity", ErrInvalidRequest, p.ID)
	}

	fee := req.AmountIn.Mul(decimal.NewFromInt(int64(m.exchange.FeeBasisPoints))).Div(basisPoints).Ceil()
	inWithFee := req.AmountIn.Sub(fee)
	out := inWithFee.Mul(reserveOut).Div(reserveIn.Add(inWithFee)).Floor()
	if !out.IsPositive() || out.GreaterThanOrEqual(reserveOut) {
		return SwapReceipt{}, fmt.Errorf("%w: swap of %s yields %s", ErrInvalidRequest, req.AmountIn, out)
	}
	if out.LessThan(req.MinimumAmountOut) {
		return SwapReceipt{}, fmt.Errorf("%w: got %s, minimum %s", ErrSlippageExceeded, out, req.MinimumAmountOut)
	}

	if req.BaseToQuote {
		p.BaseReserve = p.BaseReserve.Add(req.AmountIn)
		p.QuoteReserve = p.QuoteReserve.Sub(out)
	} else {
		p.QuoteReserve = p.QuoteReserve.Add(req.AmountIn)
		p.BaseReserve = p.BaseReserve.Sub(out)
	}
	p.TotalVolume = p.TotalVolume.Add(req.AmountIn)
	m.exchange.TotalVolume = m.exchange.TotalVolume.Add(req.AmountIn)
	m.exchange.TotalFeesCollected = m.exchange.TotalFeesCollected.Add(fee)

	return SwapReceipt{AmountIn: req.AmountIn, AmountOut: out, Fee: fee}, nil
}

func (m *Memory) SubmitCancel(ctx context.Context, orderID, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if !o.IsActive {
		return fmt.Errorf("%w: %s", ErrOrderNotActive, orderID)
	}
	if o.User != user {
		return fmt.Errorf("%w: %s does not own order %s", ErrUnauthorized, user, orderID)
	}
	o.IsActive = false
	return nil
}

// tradablePair must be called with mu held.
func (m *Memory) tradablePair(pairID string) (*Pair, error) {
	if m.exchange.IsPaused {
		return nil, ErrExchangePaused
	}
	p, ok := m.pairs[pairID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPairNotFound, pairID)
	}
	if !p.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrPairInactive, pairID)
	}
	return p, nil
}
