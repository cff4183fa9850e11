package ledger

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func TestPairAddressIsDeterministicAndOrdered(t *testing.T) {
	usdc := solana.MustPublicKeyFromBase58(usdcMint)

	addr, bump, err := PairAddress(DefaultProgramID, solana.SolMint, usdc)
	require.NoError(t, err)
	assert.False(t, addr.IsOnCurve(), "program addresses are off the curve")

	again, _, err := PairAddress(DefaultProgramID, solana.SolMint, usdc)
	require.NoError(t, err)
	assert.True(t, addr.Equals(again))

	reversed, _, err := PairAddress(DefaultProgramID, usdc, solana.SolMint)
	require.NoError(t, err)
	assert.False(t, addr.Equals(reversed))

	recreated, err := solana.CreateProgramAddress([][]byte{
		[]byte("pair"), solana.SolMint.Bytes(), usdc.Bytes(), {bump},
	}, DefaultProgramID)
	require.NoError(t, err)
	assert.True(t, addr.Equals(recreated))
}

func TestParseMints(t *testing.T) {
	_, _, err := ParseMints(solana.SolMint.String(), usdcMint)
	assert.NoError(t, err)

	_, _, err = ParseMints("not-a-key", usdcMint)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, _, err = ParseMints(usdcMint, usdcMint)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestMemoryDerivesAccountAddresses(t *testing.T) {
	ctx := context.Background()
	m := newSeededMemory(t)

	ex, err := m.FetchExchange(ctx)
	require.NoError(t, err)
	want, _, err := ExchangeAddress(DefaultProgramID)
	require.NoError(t, err)
	assert.Equal(t, want.String(), ex.Address)

	p, err := m.FetchPair(ctx, "SOL-USDC")
	require.NoError(t, err)
	addr, _, err := PairAddress(DefaultProgramID, solana.SolMint, solana.MustPublicKeyFromBase58(usdcMint))
	require.NoError(t, err)
	assert.Equal(t, addr.String(), p.Address)

	err = m.CreatePair(Pair{ID: "BAD", BaseMint: "xyz", QuoteMint: usdcMint})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	err = m.CreatePair(Pair{ID: "HALF", BaseMint: usdcMint})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPairByMints(t *testing.T) {
	ctx := context.Background()
	m := newSeededMemory(t)

	p, err := PairByMints(ctx, m, solana.SolMint.String(), usdcMint)
	require.NoError(t, err)
	assert.Equal(t, "SOL-USDC", p.ID)

	_, err = PairByMints(ctx, m, usdcMint, solana.SolMint.String())
	assert.ErrorIs(t, err, ErrPairNotFound)
	_, err = PairByMints(ctx, m, "bad", usdcMint)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
