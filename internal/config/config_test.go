package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "LEDGER_URL", "LEDGER_TIMEOUT", "FEE_BASIS_POINTS", "DEFAULT_SLIPPAGE_BPS",
	"DEPTH_LEVELS", "LOG_LEVEL", "KAFKA_BROKERS", "KAFKA_TOPIC", "SEED_PAIRS", "COMMAND_BUFFER",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LEDGER_URL", "http://ledger:7000")
	t.Setenv("LEDGER_TIMEOUT", "2s")
	t.Setenv("FEE_BASIS_POINTS", "25")
	t.Setenv("DEFAULT_SLIPPAGE_BPS", "100")
	t.Setenv("DEPTH_LEVELS", "5")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SEED_PAIRS", "SOL-USDC:1000:50000:So11111111111111111111111111111111111111112:EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v,ETH-USDC:10.5:31000")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://ledger:7000", cfg.LedgerURL)
	assert.Equal(t, 2*time.Second, cfg.LedgerTimeout)
	assert.Equal(t, uint16(25), cfg.FeeBasisPoints)
	assert.Equal(t, 100.0, cfg.DefaultSlippageBps)
	assert.Equal(t, 5, cfg.DepthLevels)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Len(t, cfg.SeedPairs, 2)
	assert.Equal(t, "ETH-USDC", cfg.SeedPairs[1].ID)
	assert.Equal(t, "10.5", cfg.SeedPairs[1].BaseReserve.String())
	assert.Equal(t, "So11111111111111111111111111111111111111112", cfg.SeedPairs[0].BaseMint)
	assert.Empty(t, cfg.SeedPairs[1].QuoteMint)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"FEE_BASIS_POINTS":     "10000",
		"DEFAULT_SLIPPAGE_BPS": "-1",
		"DEPTH_LEVELS":         "zero",
		"COMMAND_BUFFER":       "0",
		"LEDGER_TIMEOUT":       "soon",
		"SEED_PAIRS":           "SOL-USDC:1000",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("PORT")
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=7070\nKAFKA_TOPIC=fills\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
