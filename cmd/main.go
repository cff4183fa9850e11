package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"solbase-engine/internal/config"
	"solbase-engine/internal/engine/liquiditypool"
	"solbase-engine/internal/events"
	"solbase-engine/internal/exchange"
	"solbase-engine/internal/handlers"
	"solbase-engine/internal/ledger"
	"solbase-engine/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "solbase-engine",
		Usage: "DEX trading engine: order matching and constant-product pools",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "optional dotenv file"},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the trading API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "port", Usage: "listen port (overrides PORT)"},
					&cli.StringFlag{Name: "ledger-url", Usage: "ledger gateway URL (overrides LEDGER_URL)"},
				},
				Action: serve,
			},
			{
				Name:  "ledger",
				Usage: "run an in-memory ledger gateway seeded from SEED_PAIRS",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "port", Value: "7000", Usage: "listen port"},
				},
				Action: runLedger,
			},
			{
				Name:  "quote",
				Usage: "price a swap against the given reserves",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: "base", Required: true, Usage: "base reserve"},
					&cli.Float64Flag{Name: "quote", Required: true, Usage: "quote reserve"},
					&cli.Float64Flag{Name: "amount", Required: true, Usage: "input amount"},
					&cli.StringFlag{Name: "direction", Value: "base_to_quote"},
					&cli.Float64Flag{Name: "fee-bps", Value: liquiditypool.DefaultFeeBasisPoints},
					&cli.Float64Flag{Name: "slippage-bps", Value: liquiditypool.DefaultSlippageBasisPoints},
				},
				Action: quote,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		utils.LogError(err, "Exited with error")
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return config.Config{}, err
	}
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if v := c.String("port"); v != "" {
		cfg.Port = v
	}
	if v := c.String("ledger-url"); v != "" {
		cfg.LedgerURL = v
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var l ledger.Ledger
	if cfg.LedgerURL != "" {
		l = ledger.NewClient(cfg.LedgerURL, cfg.LedgerTimeout)
	} else {
		mem, err := seededMemory(cfg)
		if err != nil {
			return err
		}
		l = mem
	}

	hub := events.NewHub(cfg.CommandBuffer)
	go hub.Run(ctx)

	sinks := events.Fanout{events.LogSink{}, hub}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic, events.DefaultKafkaBuffer)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		flushed := make(chan struct{})
		go func() {
			kafka.Run(ctx)
			close(flushed)
		}()
		defer func() {
			stop()
			<-flushed
			kafka.Close()
		}()
		sinks = append(sinks, kafka)
	}

	svc := exchange.New(l, sinks, exchange.Config{
		FeeBasisPoints:      float64(cfg.FeeBasisPoints),
		SlippageBasisPoints: cfg.DefaultSlippageBps,
		DepthLevels:         cfg.DepthLevels,
		CommandBuffer:       cfg.CommandBuffer,
	})
	go svc.Run(ctx)

	r := mux.NewRouter()
	handlers.NewHandler(svc, l, hub).SetupRoutes(r)

	utils.Logger.WithFields(logrus.Fields{
		"port":   cfg.Port,
		"ledger": ledgerKind(cfg),
		"kafka":  len(cfg.KafkaBrokers) > 0,
	}).Info("Server starting")
	return listen(ctx, cfg.Port, r)
}

func runLedger(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mem, err := seededMemory(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	utils.Logger.WithFields(logrus.Fields{
		"port":  c.String("port"),
		"pairs": len(cfg.SeedPairs),
	}).Info("Ledger gateway starting")
	return listen(ctx, c.String("port"), ledger.NewGateway(mem))
}

func quote(c *cli.Context) error {
	dir, err := liquiditypool.ParseDirection(c.String("direction"))
	if err != nil {
		return err
	}
	pool, err := liquiditypool.FromReserves(c.Float64("base"), c.Float64("quote"))
	if err != nil {
		return err
	}
	q, err := pool.Quote(c.Float64("amount"), dir, c.Float64("fee-bps"), c.Float64("slippage-bps"))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(q)
}

func seededMemory(cfg config.Config) (*ledger.Memory, error) {
	mem := ledger.NewMemory("local", cfg.FeeBasisPoints)
	for _, p := range cfg.SeedPairs {
		err := mem.CreatePair(ledger.Pair{
			ID:           p.ID,
			BaseMint:     p.BaseMint,
			QuoteMint:    p.QuoteMint,
			BaseReserve:  p.BaseReserve,
			QuoteReserve: p.QuoteReserve,
		})
		if err != nil {
			return nil, err
		}
	}
	return mem, nil
}

func ledgerKind(cfg config.Config) string {
	if cfg.LedgerURL != "" {
		return cfg.LedgerURL
	}
	return "memory"
}

func listen(ctx context.Context, port string, h http.Handler) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	utils.Logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
