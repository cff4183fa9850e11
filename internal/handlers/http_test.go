package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solbase-engine/internal/engine"
	"solbase-engine/internal/events"
	"solbase-engine/internal/exchange"
	"solbase-engine/internal/ledger"
)

const (
	bonkMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

func newTestRouter(t *testing.T) (*mux.Router, *ledger.Memory) {
	t.Helper()
	mem := ledger.NewMemory("authority", 30)
	require.NoError(t, mem.CreatePair(ledger.Pair{
		ID:           "SOL-USDC",
		BaseReserve:  decimal.NewFromInt(1000000),
		QuoteReserve: decimal.NewFromInt(50000000),
	}))

	svc := exchange.New(mem, nil, exchange.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx)
	t.Cleanup(cancel)

	r := mux.NewRouter()
	NewHandler(svc, mem, nil).SetupRoutes(r)
	return r, mem
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthCheck(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := do(t, r, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestOrderFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := do(t, r, "POST", "/api/orders", map[string]interface{}{
		"user": "alice", "pair": "SOL-USDC", "side": "buy", "amount": "10", "price": 60,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var buy exchange.OrderResult
	decode(t, rec, &buy)
	assert.Empty(t, buy.Trades)

	rec = do(t, r, "POST", "/api/orders", map[string]interface{}{
		"user": "bob", "pair": "SOL-USDC", "side": "sell", "amount": "6", "price": "55",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var sell exchange.OrderResult
	decode(t, rec, &sell)
	require.Len(t, sell.Trades, 1)
	assert.Equal(t, 55.0, sell.Trades[0].Price)
	assert.Equal(t, engine.Sell, sell.Order.Side)

	rec = do(t, r, "GET", "/api/orderbook/SOL-USDC", nil)
	var book engine.Book
	decode(t, rec, &book)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, 4.0, book.Bids[0].Amount)
	assert.NotNil(t, book.Asks)

	rec = do(t, r, "GET", "/api/depth/SOL-USDC?levels=1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, r, "GET", "/api/depth/SOL-USDC?levels=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "GET", "/api/orders/user/alice", nil)
	var orders []ledger.OrderRecord
	decode(t, rec, &orders)
	require.Len(t, orders, 1)
	assert.Equal(t, buy.Order.ID, orders[0].ID)

	rec = do(t, r, "DELETE", "/api/orders/SOL-USDC/buy/"+buy.Order.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "cancel needs the owner")
	rec = do(t, r, "DELETE", "/api/orders/SOL-USDC/buy/"+buy.Order.ID+"?user=bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	rec = do(t, r, "DELETE", "/api/orders/SOL-USDC/buy/"+buy.Order.ID+"?user=alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, r, "DELETE", "/api/orders/SOL-USDC/buy/"+buy.Order.ID+"?user=alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = do(t, r, "DELETE", "/api/orders/SOL-USDC/buy/missing?user=alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, r, "DELETE", "/api/orders/SOL-USDC/hold/x?user=alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "GET", "/metrics", nil)
	var m map[string]float64
	decode(t, rec, &m)
	assert.Equal(t, 2.0, m["orders_received"])
	assert.Equal(t, 1.0, m["trades_executed"])
	assert.Equal(t, 1.0, m["orders_cancelled"])
}

func TestOrderErrors(t *testing.T) {
	r, mem := newTestRouter(t)

	rec := do(t, r, "POST", "/api/orders", map[string]interface{}{
		"user": "alice", "pair": "SOL-USDC", "side": "buy", "amount": "-1", "price": "1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "POST", "/api/orders", map[string]interface{}{
		"user": "alice", "pair": "DOGE-USDC", "side": "buy", "amount": "1", "price": "1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	mem.SetPaused(true)
	rec = do(t, r, "POST", "/api/orders", map[string]interface{}{
		"user": "alice", "pair": "SOL-USDC", "side": "buy", "amount": "1", "price": "1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	req := httptest.NewRequest("POST", "/api/orders", bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	r.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
	assert.Contains(t, raw.Body.String(), "error")
}

func TestPoolEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := do(t, r, "POST", "/api/pools/SOL-USDC/swap", map[string]interface{}{"amount_in": "1", "direction": "sell"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, r, "POST", "/api/pools/SOL-USDC/liquidity", map[string]interface{}{
		"provider": "alice", "base_amount": "1000", "quote_amount": "50000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var added struct {
		Shares decimal.Decimal `json:"shares"`
	}
	decode(t, rec, &added)
	assert.InDelta(t, 7071.0678, added.Shares.InexactFloat64(), 1e-3)

	rec = do(t, r, "POST", "/api/pools/SOL-USDC/swap", map[string]interface{}{
		"amount_in": "100", "direction": "base_to_quote", "minimum_amount_out": "4500",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var swapped exchange.SwapResult
	decode(t, rec, &swapped)
	assert.InDelta(t, 4533.05, swapped.AmountOut.InexactFloat64(), 0.01)

	rec = do(t, r, "POST", "/api/pools/SOL-USDC/swap", map[string]interface{}{
		"amount_in": "100", "direction": "sideways",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "POST", "/api/pools/SOL-USDC/withdraw", map[string]interface{}{
		"provider": "mallory", "shares": "1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, r, "POST", "/api/pools/SOL-USDC/withdraw", map[string]interface{}{
		"provider": "alice", "shares": added.Shares.Div(decimal.NewFromInt(2)),
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, r, "GET", "/api/pools/SOL-USDC", nil)
	var stats map[string]float64
	decode(t, rec, &stats)
	assert.InDelta(t, 550, stats["base_reserve"], 1e-3)
	assert.Equal(t, 1.0, stats["providers"])
}

func TestLedgerEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := do(t, r, "GET", "/api/exchange", nil)
	var ex ledger.Exchange
	decode(t, rec, &ex)
	assert.Equal(t, uint16(30), ex.FeeBasisPoints)

	rec = do(t, r, "GET", "/api/pairs/SOL-USDC", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, r, "GET", "/api/pairs/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, r, "GET", "/api/markets", nil)
	var markets []struct {
		Pair  string          `json:"pair"`
		Price decimal.Decimal `json:"price"`
	}
	decode(t, rec, &markets)
	require.Len(t, markets, 1)
	assert.True(t, markets[0].Price.Equal(decimal.NewFromInt(50)))

	rec = do(t, r, "POST", "/api/quote", map[string]interface{}{
		"pair": "SOL-USDC", "amount_in": "100000", "direction": "base_to_quote", "slippage_bps": 100,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var q struct {
		OutputAmount    float64 `json:"output_amount"`
		MinimumReceived float64 `json:"minimum_received"`
	}
	decode(t, rec, &q)
	assert.InDelta(t, 4533054.47, q.OutputAmount, 0.01)
	assert.InDelta(t, q.OutputAmount*0.99, q.MinimumReceived, 1e-6)

	rec = do(t, r, "POST", "/api/swaps", map[string]interface{}{
		"pair": "SOL-USDC", "user": "alice", "amount_in": "100000", "base_to_quote": true, "minimum_amount_out": "5000000",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, r, "POST", "/api/swaps", map[string]interface{}{
		"pair": "SOL-USDC", "user": "alice", "amount_in": "100000", "base_to_quote": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt ledger.SwapReceipt
	decode(t, rec, &receipt)
	assert.True(t, receipt.AmountOut.Equal(decimal.NewFromInt(4533054)))
}

func TestRequestsRequireSideAndDirection(t *testing.T) {
	r, mem := newTestRouter(t)

	rec := do(t, r, "POST", "/api/orders", map[string]interface{}{
		"user": "alice", "pair": "SOL-USDC", "amount": "10", "price": 60,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "side is required")
	orders, err := mem.UserOrders(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, orders, "a rejected order must not reach the ledger")

	rec = do(t, r, "POST", "/api/pools/SOL-USDC/liquidity", map[string]interface{}{
		"provider": "lp", "base_amount": "1000", "quote_amount": "50000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, r, "POST", "/api/pools/SOL-USDC/swap", map[string]interface{}{"amount_in": "100"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "direction is required")
	rec = do(t, r, "POST", "/api/pools/SOL-USDC/swap", map[string]interface{}{"amount_in": "100", "direction": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "GET", "/api/pools/SOL-USDC", nil)
	var stats map[string]float64
	decode(t, rec, &stats)
	assert.Equal(t, 1000.0, stats["base_reserve"], "rejected swaps leave the pool untouched")

	rec = do(t, r, "POST", "/api/quote", map[string]interface{}{"pair": "SOL-USDC", "amount_in": "100"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "POST", "/api/swaps", map[string]interface{}{"pair": "SOL-USDC", "user": "alice", "amount_in": "100000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "base_to_quote is required")
}

func TestPairLookupByMintsAndMarkets(t *testing.T) {
	r, mem := newTestRouter(t)
	require.NoError(t, mem.CreatePair(ledger.Pair{
		ID:           "BONK-USDC",
		BaseMint:     bonkMint,
		QuoteMint:    usdcMint,
		BaseReserve:  decimal.NewFromInt(400),
		QuoteReserve: decimal.NewFromInt(100),
	}))
	require.NoError(t, mem.CreatePair(ledger.Pair{
		ID:           "OLD-USDC",
		BaseReserve:  decimal.NewFromInt(1),
		QuoteReserve: decimal.NewFromInt(1),
	}))
	require.NoError(t, mem.SetPairActive("OLD-USDC", false))

	rec := do(t, r, "GET", "/api/pairs/"+bonkMint+"/"+usdcMint, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p ledger.Pair
	decode(t, rec, &p)
	assert.Equal(t, "BONK-USDC", p.ID)
	assert.NotEmpty(t, p.Address)

	rec = do(t, r, "GET", "/api/pairs/"+usdcMint+"/"+bonkMint, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, r, "GET", "/api/pairs/not-a-mint/"+usdcMint, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, r, "GET", "/api/markets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var markets []struct {
		Pair      string          `json:"pair"`
		Symbol    string          `json:"symbol"`
		BaseMint  string          `json:"base_mint"`
		Liquidity decimal.Decimal `json:"liquidity"`
		Price     decimal.Decimal `json:"price"`
	}
	decode(t, rec, &markets)
	require.Len(t, markets, 2, "inactive pairs are not markets")
	assert.Equal(t, "BONK-USDC", markets[0].Pair)
	assert.Equal(t, "BONK/USDC", markets[0].Symbol)
	assert.Equal(t, bonkMint, markets[0].BaseMint)
	assert.True(t, markets[0].Liquidity.Equal(decimal.NewFromInt(500)))
	assert.True(t, markets[0].Price.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, "SOL-USDC", markets[1].Pair)
	assert.True(t, markets[1].Liquidity.Equal(decimal.NewFromInt(51000000)))
}

func TestTradeStreamThroughRouter(t *testing.T) {
	mem := ledger.NewMemory("authority", 30)
	require.NoError(t, mem.CreatePair(ledger.Pair{
		ID:           "SOL-USDC",
		BaseReserve:  decimal.NewFromInt(1000000),
		QuoteReserve: decimal.NewFromInt(50000000),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := events.NewHub(16)
	go hub.Run(ctx)
	svc := exchange.New(mem, hub, exchange.DefaultConfig())
	go svc.Run(ctx)

	r := mux.NewRouter()
	NewHandler(svc, mem, hub).SetupRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/trades", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := do(t, r, "POST", "/api/orders", map[string]interface{}{
		"user": "alice", "pair": "SOL-USDC", "side": "sell", "amount": "2", "price": "50",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, r, "POST", "/api/orders", map[string]interface{}{
		"user": "bob", "pair": "SOL-USDC", "side": "buy", "amount": "2", "price": "51",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type   string  `json:"type"`
		Pair   string  `json:"pair"`
		Price  float64 `json:"price"`
		Amount float64 `json:"amount"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "trade", ev.Type)
	assert.Equal(t, "SOL-USDC", ev.Pair)
	assert.Equal(t, 50.0, ev.Price)
	assert.Equal(t, 2.0, ev.Amount)
}
