package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"solbase-engine/internal/engine"
	"solbase-engine/internal/engine/liquiditypool"
	"solbase-engine/internal/exchange"
	"solbase-engine/internal/ledger"
	"solbase-engine/pkg/utils"
)

type Handler struct {
	service   *exchange.Service
	ledger    ledger.Ledger
	startTime time.Time

	ordersReceived  atomic.Int64
	ordersCancelled atomic.Int64
	tradesExecuted  atomic.Int64
	swapsExecuted   atomic.Int64

	stream http.Handler
}

// NewHandler wires the API. stream, when non-nil, serves the live trade
// feed at /ws/trades.
func NewHandler(s *exchange.Service, l ledger.Ledger, stream http.Handler) *Handler {
	return &Handler{service: s, ledger: l, stream: stream, startTime: time.Now()}
}

func (h *Handler) SetupRoutes(r *mux.Router) {
	r.Use(logRequests)

	r.HandleFunc("/health", h.healthCheck).Methods("GET")
	r.HandleFunc("/metrics", h.metrics).Methods("GET")
	if h.stream != nil {
		r.Handle("/ws/trades", h.stream).Methods("GET")
	}

	api := r.PathPrefix("/api").Subrouter()

	// ledger state
	api.HandleFunc("/exchange", h.getExchange).Methods("GET")
	api.HandleFunc("/pairs", h.listPairs).Methods("GET")
	api.HandleFunc("/pairs/{pair}", h.getPair).Methods("GET")
	api.HandleFunc("/pairs/{base}/{quote}", h.getPairByMints).Methods("GET")
	api.HandleFunc("/markets", h.markets).Methods("GET")
	api.HandleFunc("/quote", h.quote).Methods("POST")
	api.HandleFunc("/swaps", h.settleSwap).Methods("POST")
	api.HandleFunc("/orders/user/{user}", h.userOrders).Methods("GET")

	// simulation
	api.HandleFunc("/orders", h.createOrder).Methods("POST")
	api.HandleFunc("/orders/{pair}/{side}/{id}", h.cancelOrder).Methods("DELETE")
	api.HandleFunc("/orderbook/{pair}", h.orderBook).Methods("GET")
	api.HandleFunc("/depth/{pair}", h.depth).Methods("GET")
	api.HandleFunc("/pools/{pair}", h.poolStats).Methods("GET")
	api.HandleFunc("/pools/{pair}/liquidity", h.addLiquidity).Methods("POST")
	api.HandleFunc("/pools/{pair}/withdraw", h.removeLiquidity).Methods("POST")
	api.HandleFunc("/pools/{pair}/swap", h.swap).Methods("POST")
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":   int64(time.Since(h.startTime).Seconds()),
		"orders_received":  h.ordersReceived.Load(),
		"orders_cancelled": h.ordersCancelled.Load(),
		"trades_executed":  h.tradesExecuted.Load(),
		"swaps_executed":   h.swapsExecuted.Load(),
	})
}

func (h *Handler) getExchange(w http.ResponseWriter, r *http.Request) {
	ex, err := h.ledger.FetchExchange(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ex)
}

func (h *Handler) listPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.ledger.ListPairs(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pairs)
}

func (h *Handler) getPair(w http.ResponseWriter, r *http.Request) {
	p, err := h.ledger.FetchPair(r.Context(), mux.Vars(r)["pair"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) getPairByMints(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := ledger.PairByMints(r.Context(), h.ledger, vars["base"], vars["quote"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type market struct {
	Pair         string          `json:"pair"`
	Symbol       string          `json:"symbol"`
	BaseMint     string          `json:"base_mint,omitempty"`
	QuoteMint    string          `json:"quote_mint,omitempty"`
	Price        decimal.Decimal `json:"price"`
	BaseReserve  decimal.Decimal `json:"base_reserve"`
	QuoteReserve decimal.Decimal `json:"quote_reserve"`
	Liquidity    decimal.Decimal `json:"liquidity"`
	Volume       decimal.Decimal `json:"volume"`
}

// markets lists the tradable pairs only.
func (h *Handler) markets(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.ledger.ListPairs(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	markets := make([]market, 0, len(pairs))
	for _, p := range pairs {
		if !p.IsActive {
			continue
		}
		markets = append(markets, market{
			Pair:         p.ID,
			Symbol:       strings.Replace(p.ID, "-", "/", 1),
			BaseMint:     p.BaseMint,
			QuoteMint:    p.QuoteMint,
			Price:        p.Price(),
			BaseReserve:  p.BaseReserve,
			QuoteReserve: p.QuoteReserve,
			Liquidity:    p.BaseReserve.Add(p.QuoteReserve),
			Volume:       p.TotalVolume,
		})
	}
	respondJSON(w, http.StatusOK, markets)
}

type quoteRequest struct {
	Pair        string                   `json:"pair"`
	AmountIn    decimal.Decimal          `json:"amount_in"`
	Direction   *liquiditypool.Direction `json:"direction"`
	SlippageBps *float64                 `json:"slippage_bps,omitempty"`
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Direction == nil {
		respondErr(w, errMissing("direction"))
		return
	}
	slippage := -1.0
	if req.SlippageBps != nil {
		slippage = *req.SlippageBps
	}

	q, err := h.service.Quote(r.Context(), req.Pair, req.AmountIn, *req.Direction, slippage)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

type settleRequest struct {
	Pair             string          `json:"pair"`
	User             string          `json:"user"`
	AmountIn         decimal.Decimal `json:"amount_in"`
	MinimumAmountOut decimal.Decimal `json:"minimum_amount_out"`
	BaseToQuote      *bool           `json:"base_to_quote"`
}

func (h *Handler) settleSwap(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BaseToQuote == nil {
		respondErr(w, errMissing("base_to_quote"))
		return
	}
	receipt, err := h.service.SettleSwap(r.Context(), ledger.SwapRequest{
		Pair:             req.Pair,
		User:             req.User,
		AmountIn:         req.AmountIn,
		MinimumAmountOut: req.MinimumAmountOut,
		BaseToQuote:      *req.BaseToQuote,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	h.swapsExecuted.Add(1)
	respondJSON(w, http.StatusOK, receipt)
}

func (h *Handler) userOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.ledger.UserOrders(r.Context(), mux.Vars(r)["user"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

type createOrderRequest struct {
	User   string          `json:"user"`
	Pair   string          `json:"pair"`
	Side   *engine.Side    `json:"side"`
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Side == nil {
		respondErr(w, errMissing("side"))
		return
	}

	result, err := h.service.PlaceOrder(r.Context(), exchange.PlaceOrderRequest{
		User:   req.User,
		Pair:   req.Pair,
		Side:   *req.Side,
		Amount: req.Amount,
		Price:  req.Price,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	h.ordersReceived.Add(1)
	h.tradesExecuted.Add(int64(len(result.Trades)))
	respondJSON(w, http.StatusCreated, result)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	side, err := engine.ParseSide(vars["side"])
	if err != nil {
		respondErr(w, err)
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		respondErr(w, errMissing("user"))
		return
	}
	err = h.service.CancelOrder(r.Context(), exchange.CancelOrderRequest{
		User: user,
		Pair: vars["pair"],
		Side: side,
		ID:   vars["id"],
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	h.ordersCancelled.Add(1)
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "order_id": vars["id"]})
}

func (h *Handler) orderBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.OrderBook(r.Context(), mux.Vars(r)["pair"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, book)
}

func (h *Handler) depth(w http.ResponseWriter, r *http.Request) {
	levels := 0
	if v := r.URL.Query().Get("levels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "levels must be a positive integer")
			return
		}
		levels = n
	}
	depth, err := h.service.MarketDepth(r.Context(), mux.Vars(r)["pair"], levels)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, depth)
}

func (h *Handler) poolStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.PoolStats(r.Context(), mux.Vars(r)["pair"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

type liquidityRequest struct {
	Provider    string          `json:"provider"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
	Shares      decimal.Decimal `json:"shares"`
}

func (h *Handler) addLiquidity(w http.ResponseWriter, r *http.Request) {
	var req liquidityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	shares, err := h.service.AddLiquidity(r.Context(), mux.Vars(r)["pair"], req.Provider, req.BaseAmount, req.QuoteAmount)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"provider": req.Provider, "shares": shares})
}

func (h *Handler) removeLiquidity(w http.ResponseWriter, r *http.Request) {
	var req liquidityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	base, quote, err := h.service.RemoveLiquidity(r.Context(), mux.Vars(r)["pair"], req.Provider, req.Shares)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"provider":     req.Provider,
		"base_amount":  base,
		"quote_amount": quote,
	})
}

type swapRequest struct {
	AmountIn         decimal.Decimal          `json:"amount_in"`
	Direction        *liquiditypool.Direction `json:"direction"`
	MinimumAmountOut decimal.Decimal          `json:"minimum_amount_out"`
}

func (h *Handler) swap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Direction == nil {
		respondErr(w, errMissing("direction"))
		return
	}
	result, err := h.service.Swap(r.Context(), exchange.SwapRequest{
		Pair:             mux.Vars(r)["pair"],
		Direction:        *req.Direction,
		AmountIn:         req.AmountIn,
		MinimumAmountOut: req.MinimumAmountOut,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	h.swapsExecuted.Add(1)
	respondJSON(w, http.StatusOK, result)
}

func errMissing(field string) error {
	return fmt.Errorf("%w: %s is required", engine.ErrInvalidOrder, field)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.Logger.WithField("error", err.Error()).Debug("Failed to decode request")
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

var errorStatus = []struct {
	err    error
	status int
}{
	{engine.ErrInvalidAmount, http.StatusBadRequest},
	{engine.ErrInvalidOrder, http.StatusBadRequest},
	{engine.ErrInvalidFee, http.StatusBadRequest},
	{ledger.ErrInvalidRequest, http.StatusBadRequest},
	{engine.ErrInsufficientShares, http.StatusUnprocessableEntity},
	{engine.ErrInsufficientLiquidity, http.StatusUnprocessableEntity},
	{engine.ErrZeroReserve, http.StatusUnprocessableEntity},
	{engine.ErrOrderNotFound, http.StatusNotFound},
	{ledger.ErrOrderNotFound, http.StatusNotFound},
	{ledger.ErrPairNotFound, http.StatusNotFound},
	{ledger.ErrPairInactive, http.StatusConflict},
	{ledger.ErrExchangePaused, http.StatusConflict},
	{ledger.ErrSlippageExceeded, http.StatusConflict},
	{ledger.ErrOrderNotActive, http.StatusConflict},
	{ledger.ErrUnauthorized, http.StatusForbidden},
	{exchange.ErrStopped, http.StatusServiceUnavailable},
}

func statusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		utils.LogError(err, "Request failed")
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, err.Error())
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the logging middleware.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		utils.LogRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
