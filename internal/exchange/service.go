// Package exchange runs the trading simulation behind a single writer.
// One goroutine owns the order matcher and every pair's liquidity pool;
// callers hand it closures over a channel and wait for the result.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"solbase-engine/internal/engine"
	"solbase-engine/internal/engine/liquiditypool"
	"solbase-engine/internal/ledger"
	"solbase-engine/pkg/utils"
)

// ErrStopped is returned once Run has exited.
var ErrStopped = errors.New("exchange service stopped")

// amountPlaces is the precision of amounts leaving the service.
const amountPlaces = 9

type Config struct {
	FeeBasisPoints      float64
	SlippageBasisPoints float64
	DepthLevels         int
	CommandBuffer       int
}

func DefaultConfig() Config {
	return Config{
		FeeBasisPoints:      liquiditypool.DefaultFeeBasisPoints,
		SlippageBasisPoints: liquiditypool.DefaultSlippageBasisPoints,
		DepthLevels:         engine.DefaultDepthLevels,
		CommandBuffer:       1024,
	}
}

type Service struct {
	cfg     Config
	ledger  ledger.Ledger
	matcher *engine.OrderMatcher
	pools   map[string]*liquiditypool.LiquidityPool
	cmds    chan func()
	done    chan struct{}
	now     func() time.Time
}

func New(l ledger.Ledger, sink engine.TradeSink, cfg Config) *Service {
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = DefaultConfig().CommandBuffer
	}
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = engine.DefaultDepthLevels
	}
	opts := []engine.Option{}
	if sink != nil {
		opts = append(opts, engine.WithTradeSink(sink))
	}
	return &Service{
		cfg:     cfg,
		ledger:  l,
		matcher: engine.NewOrderMatcher(opts...),
		pools:   make(map[string]*liquiditypool.LiquidityPool),
		cmds:    make(chan func(), cfg.CommandBuffer),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Run executes commands until ctx is done. It must be called once.
func (s *Service) Run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case cmd := <-s.cmds:
			cmd()
		case <-ctx.Done():
			return
		}
	}
}

// exec runs fn on the loop goroutine and waits for it. A command that
// was accepted always runs to completion before Run exits.
func (s *Service) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}

	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

type PlaceOrderRequest struct {
	User   string
	Pair   string
	Side   engine.Side
	Amount decimal.Decimal
	Price  decimal.Decimal
}

type OrderResult struct {
	Order  engine.Order   `json:"order"`
	Trades []engine.Trade `json:"trades"`
}

// PlaceOrder records a limit order on the ledger, then rests it in the
// simulated book and matches it.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (OrderResult, error) {
	if req.Side != engine.Buy && req.Side != engine.Sell {
		return OrderResult{}, fmt.Errorf("%w: unknown side", engine.ErrInvalidOrder)
	}
	if req.Pair == "" || req.User == "" {
		return OrderResult{}, fmt.Errorf("%w: user and pair are required", engine.ErrInvalidOrder)
	}
	if !req.Amount.IsPositive() || !req.Price.IsPositive() {
		return OrderResult{}, fmt.Errorf("%w: amount %s price %s", engine.ErrInvalidAmount, req.Amount, req.Price)
	}

	order := &engine.Order{
		ID:        uuid.NewString(),
		User:      req.User,
		Pair:      req.Pair,
		Side:      req.Side,
		Amount:    req.Amount.InexactFloat64(),
		Price:     req.Price.InexactFloat64(),
		Timestamp: s.now().UTC(),
	}

	err := s.ledger.SubmitOrder(ctx, ledger.OrderRecord{
		ID:        order.ID,
		User:      order.User,
		Pair:      order.Pair,
		Side:      order.Side.String(),
		OrderType: "limit",
		Amount:    req.Amount,
		Price:     req.Price,
		Timestamp: order.Timestamp,
	})
	if err != nil {
		return OrderResult{}, err
	}

	var result OrderResult
	var addErr error
	err = s.exec(ctx, func() {
		result.Trades, addErr = s.matcher.AddOrder(order)
		result.Order = *order
	})
	if err == nil {
		err = addErr
	}
	if err != nil {
		if cancelErr := s.ledger.SubmitCancel(context.WithoutCancel(ctx), order.ID, order.User); cancelErr != nil {
			utils.LogError(cancelErr, "Failed to roll back ledger order")
		}
		return OrderResult{}, err
	}
	if result.Trades == nil {
		result.Trades = []engine.Trade{}
	}

	utils.Logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"pair":     order.Pair,
		"side":     order.Side.String(),
		"trades":   len(result.Trades),
	}).Info("Order placed")
	return result, nil
}

type CancelOrderRequest struct {
	User string
	Pair string
	Side engine.Side
	ID   string
}

// CancelOrder cancels one of the user's orders. Ownership and placement are
// checked against the ledger record before the book is touched. An order
// that no longer rests in the simulated book, because it was fully filled
// there, is still deactivated on the ledger.
func (s *Service) CancelOrder(ctx context.Context, req CancelOrderRequest) error {
	if req.User == "" || req.ID == "" {
		return fmt.Errorf("%w: user and order id are required", engine.ErrInvalidOrder)
	}
	rec, err := s.ledger.FetchOrder(ctx, req.ID)
	if err != nil {
		return err
	}
	if rec.Pair != req.Pair || rec.Side != req.Side.String() {
		return fmt.Errorf("%w: %s is not a %s order on %s", engine.ErrOrderNotFound, req.ID, req.Side, req.Pair)
	}
	if rec.User != req.User {
		return fmt.Errorf("%w: %s does not own order %s", ledger.ErrUnauthorized, req.User, req.ID)
	}

	var resting bool
	if err := s.exec(ctx, func() {
		resting = s.matcher.CancelOrder(req.ID, req.Pair, req.Side)
	}); err != nil {
		return err
	}
	if err := s.ledger.SubmitCancel(ctx, req.ID, req.User); err != nil {
		return err
	}

	utils.Logger.WithFields(logrus.Fields{
		"order_id": req.ID,
		"pair":     req.Pair,
		"resting":  resting,
	}).Info("Order cancelled")
	return nil
}

func (s *Service) Order(ctx context.Context, orderID string) (engine.Order, error) {
	var o engine.Order
	var lookupErr error
	if err := s.exec(ctx, func() {
		o, lookupErr = s.matcher.Order(orderID)
	}); err != nil {
		return engine.Order{}, err
	}
	return o, lookupErr
}

func (s *Service) OrderBook(ctx context.Context, pair string) (engine.Book, error) {
	var book engine.Book
	err := s.exec(ctx, func() {
		book = s.matcher.OrderBook(pair)
	})
	return book, err
}

// MarketDepth uses the configured depth when levels is zero or negative.
func (s *Service) MarketDepth(ctx context.Context, pair string, levels int) (engine.Depth, error) {
	if levels <= 0 {
		levels = s.cfg.DepthLevels
	}
	var depth engine.Depth
	err := s.exec(ctx, func() {
		depth = s.matcher.MarketDepth(pair, levels)
	})
	return depth, err
}

func (s *Service) AddLiquidity(ctx context.Context, pair, provider string, base, quote decimal.Decimal) (decimal.Decimal, error) {
	if err := s.checkPair(ctx, pair); err != nil {
		return decimal.Zero, err
	}
	if provider == "" {
		return decimal.Zero, fmt.Errorf("%w: provider is required", engine.ErrInvalidOrder)
	}

	var shares float64
	var addErr error
	if err := s.exec(ctx, func() {
		shares, addErr = s.pool(pair).AddLiquidity(provider, base.InexactFloat64(), quote.InexactFloat64())
	}); err != nil {
		return decimal.Zero, err
	}
	if addErr != nil {
		return decimal.Zero, addErr
	}
	return roundDown(shares), nil
}

func (s *Service) RemoveLiquidity(ctx context.Context, pair, provider string, shares decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	var base, quote float64
	var removeErr error
	if err := s.exec(ctx, func() {
		p, ok := s.pools[pair]
		if !ok {
			removeErr = fmt.Errorf("%w: no pool for %s", engine.ErrInsufficientShares, pair)
			return
		}
		base, quote, removeErr = p.RemoveLiquidity(provider, shares.InexactFloat64())
	}); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if removeErr != nil {
		return decimal.Zero, decimal.Zero, removeErr
	}
	return roundDown(base), roundDown(quote), nil
}

type SwapRequest struct {
	Pair             string
	Direction        liquiditypool.Direction
	AmountIn         decimal.Decimal
	MinimumAmountOut decimal.Decimal
}

type SwapResult struct {
	Direction liquiditypool.Direction `json:"direction"`
	AmountIn  decimal.Decimal         `json:"amount_in"`
	AmountOut decimal.Decimal         `json:"amount_out"`
	Pool      liquiditypool.Stats     `json:"pool"`
}

// Swap trades against the pair's simulated pool at the configured fee.
// It fails without touching the pool when the output would fall below
// MinimumAmountOut.
func (s *Service) Swap(ctx context.Context, req SwapRequest) (SwapResult, error) {
	if err := s.checkPair(ctx, req.Pair); err != nil {
		return SwapResult{}, err
	}

	in := req.AmountIn.InexactFloat64()
	var out float64
	var stats liquiditypool.Stats
	var swapErr error
	if err := s.exec(ctx, func() {
		p, ok := s.pools[req.Pair]
		if !ok {
			swapErr = fmt.Errorf("%w: no pool for %s", engine.ErrZeroReserve, req.Pair)
			return
		}
		out, swapErr = p.CalculateSwapOutput(in, req.Direction, s.cfg.FeeBasisPoints)
		if swapErr != nil {
			return
		}
		if roundDown(out).LessThan(req.MinimumAmountOut) {
			swapErr = fmt.Errorf("%w: output %v below minimum %s", ledger.ErrSlippageExceeded, out, req.MinimumAmountOut)
			return
		}
		out, swapErr = p.ExecuteSwap(in, req.Direction, s.cfg.FeeBasisPoints)
		stats = p.Stats()
	}); err != nil {
		return SwapResult{}, err
	}
	if swapErr != nil {
		return SwapResult{}, swapErr
	}

	return SwapResult{
		Direction: req.Direction,
		AmountIn:  req.AmountIn,
		AmountOut: roundDown(out),
		Pool:      stats,
	}, nil
}

// PoolStats reports an empty pool for pairs nobody has deposited into.
func (s *Service) PoolStats(ctx context.Context, pair string) (liquiditypool.Stats, error) {
	var stats liquiditypool.Stats
	err := s.exec(ctx, func() {
		if p, ok := s.pools[pair]; ok {
			stats = p.Stats()
			return
		}
		stats = liquiditypool.New().Stats()
	})
	return stats, err
}

// Quote prices a swap against the ledger's reserves and fee. A negative
// slippage selects the configured default.
func (s *Service) Quote(ctx context.Context, pair string, amountIn decimal.Decimal, dir liquiditypool.Direction, slippageBasisPoints float64) (liquiditypool.Quote, error) {
	p, err := s.ledger.FetchPair(ctx, pair)
	if err != nil {
		return liquiditypool.Quote{}, err
	}
	ex, err := s.ledger.FetchExchange(ctx)
	if err != nil {
		return liquiditypool.Quote{}, err
	}
	if slippageBasisPoints < 0 {
		slippageBasisPoints = s.cfg.SlippageBasisPoints
	}

	pool, err := liquiditypool.FromReserves(p.BaseReserve.InexactFloat64(), p.QuoteReserve.InexactFloat64())
	if err != nil {
		return liquiditypool.Quote{}, err
	}
	return pool.Quote(amountIn.InexactFloat64(), dir, float64(ex.FeeBasisPoints), slippageBasisPoints)
}

// SettleSwap submits a swap to the ledger. Without a minimum output the
// quote's minimum at the default slippage is used.
func (s *Service) SettleSwap(ctx context.Context, req ledger.SwapRequest) (ledger.SwapReceipt, error) {
	if req.MinimumAmountOut.IsZero() {
		dir := liquiditypool.QuoteToBase
		if req.BaseToQuote {
			dir = liquiditypool.BaseToQuote
		}
		q, err := s.Quote(ctx, req.Pair, req.AmountIn, dir, -1)
		if err != nil {
			return ledger.SwapReceipt{}, err
		}
		req.MinimumAmountOut = decimal.NewFromFloat(q.MinimumReceived).Floor()
	}

	receipt, err := s.ledger.SubmitSwap(ctx, req)
	if err != nil {
		return ledger.SwapReceipt{}, err
	}
	utils.Logger.WithFields(logrus.Fields{
		"pair":       req.Pair,
		"user":       req.User,
		"amount_in":  receipt.AmountIn.String(),
		"amount_out": receipt.AmountOut.String(),
	}).Info("Swap settled")
	return receipt, nil
}

func (s *Service) checkPair(ctx context.Context, pairID string) error {
	p, err := s.ledger.FetchPair(ctx, pairID)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return fmt.Errorf("%w: %s", ledger.ErrPairInactive, pairID)
	}
	return nil
}

// pool must run on the loop goroutine.
func (s *Service) pool(pair string) *liquiditypool.LiquidityPool {
	p, ok := s.pools[pair]
	if !ok {
		p = liquiditypool.New()
		s.pools[pair] = p
	}
	return p
}

func roundDown(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).RoundFloor(amountPlaces)
}
