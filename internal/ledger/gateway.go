package ledger

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// Gateway serves a Ledger over the routes Client speaks.
type Gateway struct {
	ledger Ledger
	router *mux.Router
}

func NewGateway(l Ledger) *Gateway {
	g := &Gateway{ledger: l, router: mux.NewRouter()}

	g.router.HandleFunc("/exchange", g.handleExchange).Methods("GET")
	g.router.HandleFunc("/pairs", g.handleListPairs).Methods("GET")
	g.router.HandleFunc("/pairs/{id}", g.handlePair).Methods("GET")
	g.router.HandleFunc("/orders", g.handleSubmitOrder).Methods("POST")
	g.router.HandleFunc("/orders/{id}", g.handleOrder).Methods("GET")
	g.router.HandleFunc("/orders/{id}", g.handleCancel).Methods("DELETE")
	g.router.HandleFunc("/users/{user}/orders", g.handleUserOrders).Methods("GET")
	g.router.HandleFunc("/swaps", g.handleSwap).Methods("POST")

	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

func (g *Gateway) handleExchange(w http.ResponseWriter, r *http.Request) {
	ex, err := g.ledger.FetchExchange(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

func (g *Gateway) handleListPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := g.ledger.ListPairs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pairs)
}

func (g *Gateway) handlePair(w http.ResponseWriter, r *http.Request) {
	p, err := g.ledger.FetchPair(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (g *Gateway) handleOrder(w http.ResponseWriter, r *http.Request) {
	o, err := g.ledger.FetchOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (g *Gateway) handleUserOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := g.ledger.UserOrders(r.Context(), mux.Vars(r)["user"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (g *Gateway) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var order OrderRecord
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error(), Code: "invalid_request"})
		return
	}
	if err := g.ledger.SubmitOrder(r.Context(), order); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (g *Gateway) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error(), Code: "invalid_request"})
		return
	}
	receipt, err := g.ledger.SubmitSwap(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (g *Gateway) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := g.ledger.SubmitCancel(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("user")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	code, status := codeForError(err)
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}
