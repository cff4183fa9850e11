// Package liquiditypool simulates a constant-product automated market maker
// for a single trading pair.
package liquiditypool

import (
	"fmt"
	"math"
	"strings"

	"solbase-engine/internal/engine"
)

// DefaultFeeBasisPoints is the swap fee applied when the caller has no
// exchange-specific rate (0.3%).
const DefaultFeeBasisPoints = 30

const basisPoints = 10000

type Direction int

const (
	BaseToQuote Direction = iota
	QuoteToBase
)

func (d Direction) String() string {
	if d == QuoteToBase {
		return "quote_to_base"
	}
	return "base_to_quote"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	parsed, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection accepts "base_to_quote"/"quote_to_base" and the short
// forms "sell"/"buy" (selling or buying the base token).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "base_to_quote", "basetoquote", "sell":
		return BaseToQuote, nil
	case "quote_to_base", "quotetobase", "buy":
		return QuoteToBase, nil
	}
	return 0, fmt.Errorf("%w: unknown direction %q", engine.ErrInvalidOrder, s)
}

// LiquidityPool holds the reserves and share ledger of one pair. It does no
// locking; callers serialize access.
type LiquidityPool struct {
	baseReserve  float64
	quoteReserve float64
	totalShares  float64
	shares       map[string]float64
}

func New() *LiquidityPool {
	return &LiquidityPool{shares: make(map[string]float64)}
}

// FromReserves builds a pool with starting reserves and no shares, used to
// price swaps against reserves reported by the ledger.
func FromReserves(baseReserve, quoteReserve float64) (*LiquidityPool, error) {
	if !finite(baseReserve) || !finite(quoteReserve) || baseReserve < 0 || quoteReserve < 0 {
		return nil, fmt.Errorf("%w: reserves %v/%v", engine.ErrInvalidAmount, baseReserve, quoteReserve)
	}
	if !finite(baseReserve + quoteReserve) {
		return nil, fmt.Errorf("%w: reserves %v/%v overflow", engine.ErrInvalidAmount, baseReserve, quoteReserve)
	}
	if (baseReserve == 0) != (quoteReserve == 0) {
		return nil, fmt.Errorf("%w: one-sided reserves %v/%v", engine.ErrInvalidAmount, baseReserve, quoteReserve)
	}
	p := New()
	p.baseReserve = baseReserve
	p.quoteReserve = quoteReserve
	return p, nil
}

// AddLiquidity deposits both tokens and mints shares to provider. The first
// deposit mints sqrt(base*quote); later ones mint in proportion to the
// smaller of the two deposit ratios and keep the excess in the pool.
func (p *LiquidityPool) AddLiquidity(provider string, baseAmount, quoteAmount float64) (float64, error) {
	if !positive(baseAmount) || !positive(quoteAmount) {
		return 0, fmt.Errorf("%w: deposit %v/%v", engine.ErrInvalidAmount, baseAmount, quoteAmount)
	}

	var minted float64
	if p.totalShares == 0 {
		minted = math.Sqrt(baseAmount * quoteAmount)
	} else {
		minted = p.totalShares * min(baseAmount/p.baseReserve, quoteAmount/p.quoteReserve)
	}
	if !positive(minted) {
		return 0, fmt.Errorf("%w: deposit %v/%v mints %v shares", engine.ErrInvalidAmount, baseAmount, quoteAmount, minted)
	}

	newBase := p.baseReserve + baseAmount
	newQuote := p.quoteReserve + quoteAmount
	newTotal := p.totalShares + minted
	if !finite(newBase+newQuote) || !finite(newTotal) || !finite(newQuote/newBase) || !finite(newBase/newQuote) {
		return 0, fmt.Errorf("%w: deposit %v/%v overflows the reserves", engine.ErrInvalidAmount, baseAmount, quoteAmount)
	}

	p.baseReserve = newBase
	p.quoteReserve = newQuote
	p.totalShares = newTotal
	p.shares[provider] += minted
	return minted, nil
}

// RemoveLiquidity burns shares and pays out the matching fraction of both
// reserves.
func (p *LiquidityPool) RemoveLiquidity(provider string, shares float64) (float64, float64, error) {
	if !positive(shares) {
		return 0, 0, fmt.Errorf("%w: shares %v", engine.ErrInvalidAmount, shares)
	}
	held := p.shares[provider]
	if shares > held {
		return 0, 0, fmt.Errorf("%w: %s holds %v, requested %v", engine.ErrInsufficientShares, provider, held, shares)
	}

	// The last holder leaving takes everything, so no dust stays behind a
	// zero share supply.
	if len(p.shares) == 1 && shares == held {
		baseAmount, quoteAmount := p.baseReserve, p.quoteReserve
		p.baseReserve, p.quoteReserve, p.totalShares = 0, 0, 0
		delete(p.shares, provider)
		return baseAmount, quoteAmount, nil
	}

	fraction := shares / p.totalShares
	baseAmount := p.baseReserve * fraction
	quoteAmount := p.quoteReserve * fraction

	p.baseReserve -= baseAmount
	p.quoteReserve -= quoteAmount
	p.totalShares -= shares
	if remaining := held - shares; remaining > 0 {
		p.shares[provider] = remaining
	} else {
		delete(p.shares, provider)
	}
	return baseAmount, quoteAmount, nil
}

// CalculateSwapOutput prices a swap without touching the reserves. The fee
// is taken from the input before the constant-product formula is applied.
func (p *LiquidityPool) CalculateSwapOutput(inputAmount float64, dir Direction, feeBasisPoints float64) (float64, error) {
	if !positive(inputAmount) {
		return 0, fmt.Errorf("%w: input %v", engine.ErrInvalidAmount, inputAmount)
	}
	if !finite(feeBasisPoints) || feeBasisPoints < 0 || feeBasisPoints >= basisPoints {
		return 0, fmt.Errorf("%w: %v basis points", engine.ErrInvalidFee, feeBasisPoints)
	}
	reserveIn, reserveOut := p.reserves(dir)
	if reserveIn <= 0 || reserveOut <= 0 {
		return 0, fmt.Errorf("%w: reserves %v/%v", engine.ErrZeroReserve, reserveIn, reserveOut)
	}

	inputWithFee := inputAmount * (1 - feeBasisPoints/basisPoints)
	out := inputWithFee * reserveOut / (reserveIn + inputWithFee)
	if !finite(out) {
		return 0, fmt.Errorf("%w: input %v overflows", engine.ErrInvalidAmount, inputAmount)
	}
	return out, nil
}

// ExecuteSwap applies a swap. The whole input, fee included, is added to
// the input reserve.
func (p *LiquidityPool) ExecuteSwap(inputAmount float64, dir Direction, feeBasisPoints float64) (float64, error) {
	out, err := p.CalculateSwapOutput(inputAmount, dir, feeBasisPoints)
	if err != nil {
		return 0, err
	}
	_, reserveOut := p.reserves(dir)
	if out >= reserveOut {
		return 0, fmt.Errorf("%w: output %v drains reserve %v", engine.ErrInsufficientLiquidity, out, reserveOut)
	}
	if out <= 0 {
		return 0, fmt.Errorf("%w: input %v yields no output", engine.ErrInvalidAmount, inputAmount)
	}

	newBase, newQuote := p.baseReserve+inputAmount, p.quoteReserve-out
	if dir == QuoteToBase {
		newBase, newQuote = p.baseReserve-out, p.quoteReserve+inputAmount
	}
	if !finite(newBase+newQuote) || !finite(newQuote/newBase) || !finite(newBase/newQuote) {
		return 0, fmt.Errorf("%w: input %v overflows the reserves", engine.ErrInvalidAmount, inputAmount)
	}

	p.baseReserve, p.quoteReserve = newBase, newQuote
	return out, nil
}

// Price is the marginal price of the input token in output tokens:
// quote/base for BaseToQuote, base/quote for QuoteToBase.
func (p *LiquidityPool) Price(dir Direction) (float64, error) {
	reserveIn, reserveOut := p.reserves(dir)
	if reserveIn <= 0 || reserveOut <= 0 {
		return 0, fmt.Errorf("%w: reserves %v/%v", engine.ErrZeroReserve, reserveIn, reserveOut)
	}
	return reserveOut / reserveIn, nil
}

// PriceImpact is the signed percentage by which the fee-less execution
// price of the swap deviates from the marginal price.
func (p *LiquidityPool) PriceImpact(inputAmount float64, dir Direction) (float64, error) {
	current, err := p.Price(dir)
	if err != nil {
		return 0, err
	}
	out, err := p.CalculateSwapOutput(inputAmount, dir, 0)
	if err != nil {
		return 0, err
	}
	effective := out / inputAmount
	return (effective - current) / current * 100, nil
}

// SharesOf returns the provider's share balance.
func (p *LiquidityPool) SharesOf(provider string) float64 {
	return p.shares[provider]
}

type Stats struct {
	BaseReserve      float64 `json:"base_reserve"`
	QuoteReserve     float64 `json:"quote_reserve"`
	TotalShares      float64 `json:"total_shares"`
	TotalValueLocked float64 `json:"total_value_locked"`
	Price            float64 `json:"price"`
	Providers        int     `json:"providers"`
}

// Stats is a read-only snapshot. Price is quote per base and zero for an
// empty pool.
func (p *LiquidityPool) Stats() Stats {
	price, err := p.Price(BaseToQuote)
	if err != nil {
		price = 0
	}
	return Stats{
		BaseReserve:      p.baseReserve,
		QuoteReserve:     p.quoteReserve,
		TotalShares:      p.totalShares,
		TotalValueLocked: p.baseReserve + p.quoteReserve,
		Price:            price,
		Providers:        len(p.shares),
	}
}

func (p *LiquidityPool) reserves(dir Direction) (in, out float64) {
	if dir == QuoteToBase {
		return p.quoteReserve, p.baseReserve
	}
	return p.baseReserve, p.quoteReserve
}

func positive(v float64) bool {
	return v > 0 && finite(v)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
