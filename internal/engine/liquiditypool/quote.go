package liquiditypool

import (
	"fmt"

	"solbase-engine/internal/engine"
)

// DefaultSlippageBasisPoints is the tolerance used for MinimumReceived when
// the caller does not pick one (0.5%).
const DefaultSlippageBasisPoints = 50

// Quote describes a prospective swap. Amounts are in the input and output
// token units of the chosen direction.
type Quote struct {
	Direction       Direction `json:"direction"`
	InputAmount     float64   `json:"input_amount"`
	OutputAmount    float64   `json:"output_amount"`
	Fee             float64   `json:"fee"`
	PriceImpact     float64   `json:"price_impact"`
	MinimumReceived float64   `json:"minimum_received"`
	Price           float64   `json:"price"`
}

// Quote prices a swap without executing it. MinimumReceived is the output
// reduced by the slippage tolerance.
func (p *LiquidityPool) Quote(inputAmount float64, dir Direction, feeBasisPoints, slippageBasisPoints float64) (Quote, error) {
	if !finite(slippageBasisPoints) || slippageBasisPoints < 0 || slippageBasisPoints > basisPoints {
		return Quote{}, fmt.Errorf("%w: slippage %v basis points", engine.ErrInvalidAmount, slippageBasisPoints)
	}
	out, err := p.CalculateSwapOutput(inputAmount, dir, feeBasisPoints)
	if err != nil {
		return Quote{}, err
	}
	impact, err := p.PriceImpact(inputAmount, dir)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Direction:       dir,
		InputAmount:     inputAmount,
		OutputAmount:    out,
		Fee:             inputAmount * feeBasisPoints / basisPoints,
		PriceImpact:     impact,
		MinimumReceived: out * (1 - slippageBasisPoints/basisPoints),
		Price:           out / inputAmount,
	}, nil
}
