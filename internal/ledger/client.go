package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a ledger gateway over JSON/HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) FetchExchange(ctx context.Context) (Exchange, error) {
	var ex Exchange
	err := c.do(ctx, http.MethodGet, "/exchange", nil, &ex)
	return ex, err
}

func (c *Client) FetchPair(ctx context.Context, pairID string) (Pair, error) {
	var p Pair
	err := c.do(ctx, http.MethodGet, "/pairs/"+url.PathEscape(pairID), nil, &p)
	return p, err
}

func (c *Client) ListPairs(ctx context.Context) ([]Pair, error) {
	var pairs []Pair
	err := c.do(ctx, http.MethodGet, "/pairs", nil, &pairs)
	return pairs, err
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (OrderRecord, error) {
	var o OrderRecord
	err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &o)
	return o, err
}

func (c *Client) UserOrders(ctx context.Context, user string) ([]OrderRecord, error) {
	var orders []OrderRecord
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(user)+"/orders", nil, &orders)
	return orders, err
}

func (c *Client) SubmitOrder(ctx context.Context, order OrderRecord) error {
	return c.do(ctx, http.MethodPost, "/orders", order, nil)
}

func (c *Client) SubmitSwap(ctx context.Context, req SwapRequest) (SwapReceipt, error) {
	var receipt SwapReceipt
	err := c.do(ctx, http.MethodPost, "/swaps", req, &receipt)
	return receipt, err
}

func (c *Client) SubmitCancel(ctx context.Context, orderID, user string) error {
	path := "/orders/" + url.PathEscape(orderID) + "?" + url.Values{"user": {user}}.Encode()
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ledger %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var result errorBody
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("ledger %s %s: unexpected status %d", method, path, resp.StatusCode)
		}
		if sentinel := errorForCode(result.Code); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, result.Error)
		}
		return fmt.Errorf("ledger %s %s: status %d: %s", method, path, resp.StatusCode, result.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ledger %s %s: decode: %w", method, path, err)
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var errorCodes = []struct {
	code   string
	err    error
	status int
}{
	{"pair_not_found", ErrPairNotFound, http.StatusNotFound},
	{"order_not_found", ErrOrderNotFound, http.StatusNotFound},
	{"pair_inactive", ErrPairInactive, http.StatusConflict},
	{"exchange_paused", ErrExchangePaused, http.StatusConflict},
	{"slippage_exceeded", ErrSlippageExceeded, http.StatusConflict},
	{"order_not_active", ErrOrderNotActive, http.StatusConflict},
	{"unauthorized", ErrUnauthorized, http.StatusForbidden},
	{"invalid_request", ErrInvalidRequest, http.StatusBadRequest},
}

func errorForCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

func codeForError(err error) (string, int) {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code, c.status
		}
	}
	return "internal", http.StatusInternalServerError
}
