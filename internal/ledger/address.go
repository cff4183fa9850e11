package ledger

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the exchange program the in-memory ledger derives
// its account addresses from.
var DefaultProgramID = solana.MustPublicKeyFromBase58("SoLBase111111111111111111111111111111111111")

// ExchangeAddress derives the exchange state account.
func ExchangeAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("exchange")}, programID)
}

// PairAddress derives a trading pair account from its two mints. Swapping
// the mints yields a different account.
func PairAddress(programID, baseMint, quoteMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{
		[]byte("pair"),
		baseMint.Bytes(),
		quoteMint.Bytes(),
	}, programID)
}

// ParseMints validates a base/quote mint pair.
func ParseMints(base, quote string) (solana.PublicKey, solana.PublicKey, error) {
	baseMint, err := solana.PublicKeyFromBase58(base)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("%w: base mint: %v", ErrInvalidRequest, err)
	}
	quoteMint, err := solana.PublicKeyFromBase58(quote)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("%w: quote mint: %v", ErrInvalidRequest, err)
	}
	if baseMint.Equals(quoteMint) {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("%w: base and quote mint are the same", ErrInvalidRequest)
	}
	return baseMint, quoteMint, nil
}

// PairByMints finds the pair trading base against quote. The mints are
// ordered: the reversed pair is a different account.
func PairByMints(ctx context.Context, l Ledger, base, quote string) (Pair, error) {
	baseMint, quoteMint, err := ParseMints(base, quote)
	if err != nil {
		return Pair{}, err
	}
	pairs, err := l.ListPairs(ctx)
	if err != nil {
		return Pair{}, err
	}
	for _, p := range pairs {
		if p.BaseMint == baseMint.String() && p.QuoteMint == quoteMint.String() {
			return p, nil
		}
	}
	return Pair{}, fmt.Errorf("%w: %s/%s", ErrPairNotFound, base, quote)
}
