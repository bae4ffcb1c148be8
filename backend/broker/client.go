package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/quantwell/optioncore/backend/logging"
)

// Config holds the brokerage API credentials and endpoints, adapted from the
// teacher's oanda.Config to the broker contract in §6.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	StreamURL string
}

// Client is the HTTP/WS client bound to the external brokerage's REST and
// streaming contract. It performs no retries, circuit breaking, or rate
// limiting itself — that policy lives one layer up, in gateway.Live.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string

	updatesChan chan OrderPush
	stopChan    chan struct{}
}

// OrderPush is the normalized form of an incoming order-update wire frame,
// still string-typed per §6, ready for broker.Client.StreamUpdates callers
// to convert into execution.OrderUpdate at the boundary.
type OrderPush struct {
	BrokerOrderID  string
	Status         string
	FilledQuantity string
	AveragePrice   string
	Timestamp      string
	Message        string
}

// NewClient builds a Client against cfg.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		updatesChan: make(chan OrderPush, 256),
		stopChan:    make(chan struct{}),
	}
}

// ExchangeToken swaps a request token for an access token (§6 auth contract)
// and stores it for subsequent calls.
func (c *Client) ExchangeToken(ctx context.Context, requestToken string) error {
	form := url.Values{}
	form.Set("api_key", c.cfg.APIKey)
	form.Set("request_token", requestToken)
	form.Set("checksum", c.checksum(requestToken))

	var out struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/session/token", strings.NewReader(form.Encode()), &out); err != nil {
		return err
	}

	c.mu.Lock()
	c.accessToken = out.Data.AccessToken
	c.mu.Unlock()
	return nil
}

// SetAccessToken installs a previously-acquired token (e.g. restored from a
// durable session store).
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

// AccessToken returns the currently installed access token, if any.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func (c *Client) checksum(requestToken string) string {
	// The broker's token-exchange checksum: hex SHA-256 of
	// api_key + request_token + api_secret; kept out of the wire type set
	// since it is pure request-signing, not domain data.
	sum := sha256.Sum256([]byte(c.cfg.APIKey + requestToken + c.cfg.APISecret))
	return hex.EncodeToString(sum[:])
}

// PlaceOrder submits a new order and returns the broker-assigned id.
func (c *Client) PlaceOrder(ctx context.Context, symbol, exchange, side, orderType, product string, qty int64, price, trigger decimal.Decimal) (string, error) {
	form := url.Values{}
	form.Set("tradingsymbol", symbol)
	form.Set("exchange", exchange)
	form.Set("transaction_type", side)
	form.Set("order_type", orderType)
	form.Set("product", product)
	form.Set("quantity", strconv.FormatInt(qty, 10))
	form.Set("validity", "DAY")
	if !price.IsZero() {
		form.Set("price", price.String())
	}
	if !trigger.IsZero() {
		form.Set("trigger_price", trigger.String())
	}

	var out struct {
		Data orderResponse `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/orders/regular", strings.NewReader(form.Encode()), &out); err != nil {
		return "", err
	}
	return out.Data.OrderID, nil
}

// ModifyOrder updates an in-flight order's price/trigger/quantity.
func (c *Client) ModifyOrder(ctx context.Context, brokerOrderID string, price, trigger decimal.Decimal, qty int64) error {
	form := url.Values{}
	if !price.IsZero() {
		form.Set("price", price.String())
	}
	if !trigger.IsZero() {
		form.Set("trigger_price", trigger.String())
	}
	if qty > 0 {
		form.Set("quantity", strconv.FormatInt(qty, 10))
	}

	return c.do(ctx, http.MethodPut, "/orders/regular/"+brokerOrderID, strings.NewReader(form.Encode()), nil)
}

// CancelOrder cancels an order.
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	return c.do(ctx, http.MethodDelete, "/orders/regular/"+brokerOrderID, nil, nil)
}

// GetOrders lists today's orders.
func (c *Client) GetOrders(ctx context.Context) ([]OrderSnapshot, error) {
	var out struct {
		Data []orderWire `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/orders", nil, &out); err != nil {
		return nil, err
	}
	return convertOrders(out.Data), nil
}

// GetOrderHistory lists every state transition for one order id.
func (c *Client) GetOrderHistory(ctx context.Context, brokerOrderID string) ([]OrderSnapshot, error) {
	var out struct {
		Data []orderWire `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/orders/"+brokerOrderID, nil, &out); err != nil {
		return nil, err
	}
	return convertOrders(out.Data), nil
}

// GetPositions returns the day/net position lists.
func (c *Client) GetPositions(ctx context.Context) (PositionsSnapshot, error) {
	var out struct {
		Data positionsWire `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/portfolio/positions", nil, &out); err != nil {
		return PositionsSnapshot{}, err
	}
	return PositionsSnapshot{Day: convertPositions(out.Data.Day), Net: convertPositions(out.Data.Net)}, nil
}

// GetMargins returns labelled margin decimals.
func (c *Client) GetMargins(ctx context.Context) (map[string]decimal.Decimal, error) {
	var out struct {
		Data marginsWire `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/user/margins", nil, &out); err != nil {
		return nil, err
	}
	return map[string]decimal.Decimal{
		"equity":    parseDecimal(out.Data.Equity.Net),
		"commodity": parseDecimal(out.Data.Commodity.Net),
	}, nil
}

// OrderSnapshot is the typed-decimal conversion of orderWire, ready to feed
// execution.Order construction at the gateway boundary.
type OrderSnapshot struct {
	BrokerOrderID  string
	Status         string
	Symbol         string
	Exchange       string
	Side           string
	Type           string
	Product        string
	Quantity       int64
	Price          decimal.Decimal
	TriggerPrice   decimal.Decimal
	FilledQuantity int64
	AveragePrice   decimal.Decimal
	Timestamp      time.Time
}

// PositionsSnapshot mirrors execution.PositionsSnapshot but in wire-adjacent,
// already-decimal form.
type PositionsSnapshot struct {
	Day []PositionSnapshot
	Net []PositionSnapshot
}

// PositionSnapshot is the typed-decimal conversion of positionWire.
type PositionSnapshot struct {
	InstrumentToken uint64
	Symbol          string
	Quantity        int64
	AveragePrice    decimal.Decimal
	RealizedPnL     decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	LastPrice       decimal.Decimal
}

func convertOrders(wire []orderWire) []OrderSnapshot {
	out := make([]OrderSnapshot, 0, len(wire))
	for _, w := range wire {
		out = append(out, OrderSnapshot{
			BrokerOrderID:  w.OrderID,
			Status:         w.Status,
			Symbol:         w.TradingSymbol,
			Exchange:       w.Exchange,
			Side:           w.TransactionType,
			Type:           w.OrderType,
			Product:        w.Product,
			Quantity:       parseInt(w.Quantity),
			Price:          parseDecimal(w.Price),
			TriggerPrice:   parseDecimal(w.TriggerPrice),
			FilledQuantity: parseInt(w.FilledQuantity),
			AveragePrice:   parseDecimal(w.AveragePrice),
			Timestamp:      parseWireTime(w.ExchangeTimestamp),
		})
	}
	return out
}

func convertPositions(wire []positionWire) []PositionSnapshot {
	out := make([]PositionSnapshot, 0, len(wire))
	for _, w := range wire {
		out = append(out, PositionSnapshot{
			InstrumentToken: w.InstrumentToken,
			Symbol:          w.TradingSymbol,
			Quantity:        parseInt(w.Quantity),
			AveragePrice:    parseDecimal(w.AveragePrice),
			RealizedPnL:     parseDecimal(w.PnL),
			UnrealizedPnL:   parseDecimal(w.Unrealised),
			LastPrice:       parseDecimal(w.LastPrice),
		})
	}
	return out
}

// parseDecimal tolerates the broker's empty-string-for-zero quirk.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// parseWireTime tolerates the broker's null-timestamp quirk, returning the
// zero time (never nil) so the domain model stays optional-free per §9.
func parseWireTime(raw *string) time.Time {
	if raw == nil || *raw == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02 15:04:05", *raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "token "+c.cfg.APIKey+":"+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("broker transport error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("broker read error: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrSessionExpired
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Message string `json:"message"`
		}
		json.Unmarshal(data, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(data)
		}
		return &RejectedError{Reason: apiErr.Message}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// StreamUpdates opens the broker's order-update websocket and pushes
// normalized frames onto the returned channel until Stop is called.
func (c *Client) StreamUpdates(ctx context.Context) (<-chan OrderPush, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.StreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("broker stream dial error: %w", err)
	}

	go func() {
		defer conn.Close()
		for {
			select {
			case <-c.stopChan:
				return
			default:
			}

			var wire orderUpdateWire
			if err := conn.ReadJSON(&wire); err != nil {
				logging.Error("broker: stream read error", err)
				return
			}

			ts := ""
			if wire.Timestamp != nil {
				ts = *wire.Timestamp
			}
			c.updatesChan <- OrderPush{
				BrokerOrderID:  wire.OrderID,
				Status:         wire.Status,
				FilledQuantity: wire.FilledQuantity,
				AveragePrice:   wire.AveragePrice,
				Timestamp:      ts,
				Message:        wire.StatusMessage,
			}
		}
	}()

	return c.updatesChan, nil
}

// Stop closes the streaming goroutine.
func (c *Client) Stop() {
	close(c.stopChan)
}
