package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port               string
	LedgerURL          string
	LedgerTimeout      time.Duration
	FeeBasisPoints     uint16
	DefaultSlippageBps float64
	DepthLevels        int
	LogLevel           string
	KafkaBrokers       []string
	KafkaTopic         string
	SeedPairs          []SeedPair
	CommandBuffer      int
}

// SeedPair is a pair created on the in-memory ledger at startup.
type SeedPair struct {
	ID           string
	BaseMint     string
	QuoteMint    string
	BaseReserve  decimal.Decimal
	QuoteReserve decimal.Decimal
}

func Default() Config {
	return Config{
		Port:               "8080",
		LedgerTimeout:      5 * time.Second,
		FeeBasisPoints:     30,
		DefaultSlippageBps: 50,
		DepthLevels:        10,
		LogLevel:           "info",
		KafkaTopic:         "trades",
		CommandBuffer:      1024,
	}
}

// Load reads an optional env file (".env" when none is named) and then the
// process environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	cfg := Default()
	var err error

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	cfg.LedgerURL = os.Getenv("LEDGER_URL")
	if v := os.Getenv("LEDGER_TIMEOUT"); v != "" {
		if cfg.LedgerTimeout, err = time.ParseDuration(v); err != nil {
			return Config{}, fmt.Errorf("LEDGER_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("FEE_BASIS_POINTS"); v != "" {
		fee, err := strconv.ParseUint(v, 10, 16)
		if err != nil || fee >= 10000 {
			return Config{}, fmt.Errorf("FEE_BASIS_POINTS: invalid value %q", v)
		}
		cfg.FeeBasisPoints = uint16(fee)
	}
	if v := os.Getenv("DEFAULT_SLIPPAGE_BPS"); v != "" {
		cfg.DefaultSlippageBps, err = strconv.ParseFloat(v, 64)
		if err != nil || cfg.DefaultSlippageBps < 0 || cfg.DefaultSlippageBps > 10000 {
			return Config{}, fmt.Errorf("DEFAULT_SLIPPAGE_BPS: invalid value %q", v)
		}
	}
	if v := os.Getenv("DEPTH_LEVELS"); v != "" {
		if cfg.DepthLevels, err = strconv.Atoi(v); err != nil || cfg.DepthLevels <= 0 {
			return Config{}, fmt.Errorf("DEPTH_LEVELS: invalid value %q", v)
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}
	if cfg.SeedPairs, err = ParseSeedPairs(os.Getenv("SEED_PAIRS")); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("COMMAND_BUFFER"); v != "" {
		if cfg.CommandBuffer, err = strconv.Atoi(v); err != nil || cfg.CommandBuffer <= 0 {
			return Config{}, fmt.Errorf("COMMAND_BUFFER: invalid value %q", v)
		}
	}

	return cfg, nil
}

// ParseSeedPairs reads a comma-separated list of "PAIR:base:quote", each
// optionally followed by ":baseMint:quoteMint".
func ParseSeedPairs(s string) ([]SeedPair, error) {
	var pairs []SeedPair
	for _, item := range splitList(s) {
		parts := strings.Split(item, ":")
		if (len(parts) != 3 && len(parts) != 5) || parts[0] == "" {
			return nil, fmt.Errorf("SEED_PAIRS: malformed entry %q", item)
		}
		base, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("SEED_PAIRS: %s base reserve: %w", parts[0], err)
		}
		quote, err := decimal.NewFromString(parts[2])
		if err != nil {
			return nil, fmt.Errorf("SEED_PAIRS: %s quote reserve: %w", parts[0], err)
		}
		seed := SeedPair{ID: parts[0], BaseReserve: base, QuoteReserve: quote}
		if len(parts) == 5 {
			seed.BaseMint, seed.QuoteMint = parts[3], parts[4]
		}
		pairs = append(pairs, seed)
	}
	return pairs, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
