package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/quantevo/vortexbot/internal/market"
)

// Futures REST base URLs.
const (
	MainnetBaseURL = "https://fapi.binance.com"
	TestnetBaseURL = "https://testnet.binancefuture.com"
)

// ErrNotConnected is returned by operations that need a completed Connect.
var ErrNotConnected = errors.New("binance: not connected")

// ClientConfig configures the REST client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow int64 // ms, default 5000
}

// Client is the typed REST client for the USDⓈ-M futures surface. One
// instance is shared by every runner: the symbol-info cache sits behind a
// RWMutex and request signing is serialised so timestamps stay monotonic.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int64

	hc      *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	signMu sync.Mutex
	lastTS int64

	mu        sync.RWMutex
	symbols   map[string]SymbolInfo
	connected bool

	// base delay for the order re-query in the execution-price ladder;
	// shortened in tests.
	requeryDelay time.Duration
}

type httpResult struct {
	status int
	body   []byte
}

// NewClient creates a futures REST client. Every request passes a shared
// rate limiter (10 rps, burst 20) and a circuit breaker that opens after 5
// consecutive transport/5xx failures for 30 seconds.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = MainnetBaseURL
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5000
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "binance-rest",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		apiSecret:    cfg.APISecret,
		recvWindow:   cfg.RecvWindow,
		hc:           &http.Client{Timeout: 10 * time.Second},
		limiter:      rate.NewLimiter(rate.Limit(10), 20),
		breaker:      breaker,
		symbols:      make(map[string]SymbolInfo),
		requeryDelay: 500 * time.Millisecond,
	}
}

// sign produces the hex HMAC-SHA256 of the encoded query. url.Values.Encode
// sorts keys, which is the canonical form the exchange verifies against.
func (c *Client) sign(q url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	_, _ = io.WriteString(mac, q.Encode())
	return hex.EncodeToString(mac.Sum(nil))
}

// timestamp returns a strictly increasing millisecond timestamp. Callers
// must hold signMu.
func (c *Client) timestamp() int64 {
	ts := time.Now().UnixMilli()
	if ts <= c.lastTS {
		ts = c.lastTS + 1
	}
	c.lastTS = ts
	return ts
}

func (c *Client) request(method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}

	if signed {
		c.signMu.Lock()
		params.Set("timestamp", strconv.FormatInt(c.timestamp(), 10))
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		params.Set("signature", c.sign(params))
		c.signMu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.hc.Timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("binance: rate limit wait: %w", err)
	}

	u := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	res, err := c.breaker.Execute(func() (any, error) {
		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("binance %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("binance %s %s: read body: %w", method, path, err)
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("binance %s %s: status %d", method, path, resp.StatusCode)
		}
		return httpResult{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		return nil, err
	}

	hr := res.(httpResult)
	if hr.status/100 != 2 {
		var apiErr apiError
		if jsonErr := json.Unmarshal(hr.body, &apiErr); jsonErr == nil && apiErr.Msg != "" {
			return nil, fmt.Errorf("binance: %s (code %d)", apiErr.Msg, apiErr.Code)
		}
		return nil, fmt.Errorf("binance %s %s: status %d: %s", method, path, hr.status, hr.body)
	}
	return hr.body, nil
}

// Connect pings the exchange, loads the symbol-filter cache and verifies the
// account credentials.
func (c *Client) Connect() error {
	if _, err := c.request(http.MethodGet, "/fapi/v1/ping", nil, false); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if err := c.loadExchangeInfo(); err != nil {
		return fmt.Errorf("exchange info: %w", err)
	}
	acct, err := c.GetAccount()
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	log.Info().
		Str("balance", acct.TotalWalletBalance.StringFixed(2)).
		Msg("💳 Broker connected")
	return nil
}

// Connected reports whether Connect has succeeded.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Ping checks exchange reachability without touching client state.
func (c *Client) Ping() error {
	_, err := c.request(http.MethodGet, "/fapi/v1/ping", nil, false)
	return err
}

func (c *Client) loadExchangeInfo() error {
	body, err := c.request(http.MethodGet, "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return err
	}
	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("decode exchange info: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sym := range info.Symbols {
		si := SymbolInfo{
			QtyPrecision:   3,
			MinQty:         decimal.RequireFromString("0.001"),
			StepSize:       decimal.RequireFromString("0.001"),
			PricePrecision: 2,
			TickSize:       decimal.RequireFromString("0.01"),
		}
		for _, f := range sym.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				if d, err := decimal.NewFromString(f.MinQty); err == nil {
					si.MinQty = d
				}
				if d, err := decimal.NewFromString(f.StepSize); err == nil {
					si.StepSize = d
					si.QtyPrecision = stepPrecision(f.StepSize)
				}
			case "PRICE_FILTER":
				if d, err := decimal.NewFromString(f.TickSize); err == nil {
					si.TickSize = d
					si.PricePrecision = stepPrecision(f.TickSize)
				}
			}
		}
		c.symbols[sym.Symbol] = si
	}
	return nil
}

// stepPrecision derives the decimal-place count from a step string like
// "0.00100000".
func stepPrecision(step string) int {
	step = strings.TrimRight(step, "0")
	if i := strings.IndexByte(step, '.'); i >= 0 {
		return len(step) - i - 1
	}
	return 0
}

// SymbolInfo returns the cached filters for a symbol.
func (c *Client) SymbolInfo(symbol string) (SymbolInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	si, ok := c.symbols[symbol]
	return si, ok
}

// RoundQuantity snaps q to the symbol's step size (nearest step) and
// quantity precision. Idempotent.
func (c *Client) RoundQuantity(symbol string, q decimal.Decimal) decimal.Decimal {
	si, ok := c.SymbolInfo(symbol)
	if !ok || si.StepSize.IsZero() {
		return q
	}
	return q.Div(si.StepSize).Round(0).Mul(si.StepSize).Round(int32(si.QtyPrecision))
}

// RoundQuantityDown snaps q to the symbol's step size, never rounding up.
// Position sizing uses this so a computed quantity cannot exceed the risk
// budget.
func (c *Client) RoundQuantityDown(symbol string, q decimal.Decimal) decimal.Decimal {
	si, ok := c.SymbolInfo(symbol)
	if !ok || si.StepSize.IsZero() {
		return q
	}
	return q.Div(si.StepSize).Floor().Mul(si.StepSize).Round(int32(si.QtyPrecision))
}

// RoundPrice snaps p to the symbol's price precision. Idempotent.
func (c *Client) RoundPrice(symbol string, p decimal.Decimal) decimal.Decimal {
	si, ok := c.SymbolInfo(symbol)
	if !ok {
		return p
	}
	return p.Round(int32(si.PricePrecision))
}

// GetAccount fetches the account snapshot with all non-flat positions.
func (c *Client) GetAccount() (AccountInfo, error) {
	body, err := c.request(http.MethodGet, "/fapi/v2/account", nil, true)
	if err != nil {
		return AccountInfo{}, err
	}
	var raw accountResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return AccountInfo{}, fmt.Errorf("decode account: %w", err)
	}

	acct := AccountInfo{
		TotalWalletBalance: raw.TotalWalletBalance,
		AvailableBalance:   raw.AvailableBalance,
	}
	for _, p := range raw.Positions {
		if p.PositionAmt.IsZero() {
			continue
		}
		side := PositionLong
		if p.PositionAmt.IsNegative() {
			side = PositionShort
		}
		acct.Positions = append(acct.Positions, Position{
			Symbol:        p.Symbol,
			Side:          side,
			EntryPrice:    p.EntryPrice,
			Quantity:      p.PositionAmt.Abs(),
			UnrealizedPnL: p.UnrealizedProfit,
			Leverage:      int(p.Leverage.IntPart()),
			Timestamp:     time.Now(),
		})
	}
	return acct, nil
}

// GetBalance returns the total wallet balance in the quote asset.
func (c *Client) GetBalance() (decimal.Decimal, error) {
	acct, err := c.GetAccount()
	if err != nil {
		return decimal.Zero, err
	}
	return acct.TotalWalletBalance, nil
}

// GetPrice returns the current ticker price for a symbol.
func (c *Client) GetPrice(symbol string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	body, err := c.request(http.MethodGet, "/fapi/v1/ticker/price", q, false)
	if err != nil {
		return decimal.Zero, err
	}
	var raw tickerResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker: %w", err)
	}
	return raw.Price, nil
}

// GetPosition returns the open position for a symbol, nil when flat.
func (c *Client) GetPosition(symbol string) (*Position, error) {
	acct, err := c.GetAccount()
	if err != nil {
		return nil, err
	}
	for i := range acct.Positions {
		if acct.Positions[i].Symbol == symbol {
			return &acct.Positions[i], nil
		}
	}
	return nil, nil
}

// SetLeverage sets the leverage for a symbol.
func (c *Client) SetLeverage(symbol string, leverage int) error {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("leverage", strconv.Itoa(leverage))
	_, err := c.request(http.MethodPost, "/fapi/v1/leverage", q, true)
	return err
}

// GetOpenOrders lists resting orders for a symbol.
func (c *Client) GetOpenOrders(symbol string) ([]OpenOrder, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	body, err := c.request(http.MethodGet, "/fapi/v1/openOrders", q, true)
	if err != nil {
		return nil, err
	}
	var orders []OpenOrder
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	return orders, nil
}

// CancelAllOrders cancels every resting order for a symbol.
func (c *Client) CancelAllOrders(symbol string) error {
	q := url.Values{}
	q.Set("symbol", symbol)
	_, err := c.request(http.MethodDelete, "/fapi/v1/allOpenOrders", q, true)
	return err
}

// GetOrder queries one order by id.
func (c *Client) GetOrder(symbol, orderID string) (OrderAck, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("orderId", orderID)
	body, err := c.request(http.MethodGet, "/fapi/v1/order", q, true)
	if err != nil {
		return OrderAck{}, err
	}
	var raw orderResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderAck{}, fmt.Errorf("decode order: %w", err)
	}
	return ackFromResponse(raw), nil
}

// GetKlines fetches up to limit historical klines as closed bars, used for
// warmup backfill before the live stream takes over.
func (c *Client) GetKlines(symbol, interval string, limit int) ([]market.Bar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	body, err := c.request(http.MethodGet, "/fapi/v1/klines", q, false)
	if err != nil {
		return nil, err
	}
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	bars := make([]market.Bar, 0, len(raw))
	for _, k := range raw {
		if len(k) < 10 {
			continue
		}
		openTime, _ := k[0].(float64)
		b := market.Bar{
			Timestamp: time.UnixMilli(int64(openTime)),
			Open:      parseKlineFloat(k[1]),
			High:      parseKlineFloat(k[2]),
			Low:       parseKlineFloat(k[3]),
			Close:     parseKlineFloat(k[4]),
			Volume:    parseKlineFloat(k[5]),
			BuyVolume: parseKlineFloat(k[9]),
			Closed:    true,
		}
		b.SellVolume = b.Volume - b.BuyVolume
		b.Delta = b.BuyVolume - b.SellVolume
		bars = append(bars, b)
	}
	return bars, nil
}

func parseKlineFloat(v any) float64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// OpenLong opens a LONG position with a MARKET order. SL/TP are placed
// best-effort as STOP_MARKET / TAKE_PROFIT_MARKET with closePosition=true;
// their failure does not roll back the entry.
func (c *Client) OpenLong(symbol string, qty, stopLoss, takeProfit decimal.Decimal) (OrderResult, error) {
	return c.openPosition(symbol, qty, SideBuy, stopLoss, takeProfit)
}

// OpenShort opens a SHORT position; mirror of OpenLong.
func (c *Client) OpenShort(symbol string, qty, stopLoss, takeProfit decimal.Decimal) (OrderResult, error) {
	return c.openPosition(symbol, qty, SideSell, stopLoss, takeProfit)
}

func (c *Client) openPosition(symbol string, qty decimal.Decimal, side string, stopLoss, takeProfit decimal.Decimal) (OrderResult, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("side", side)
	q.Set("type", OrderMarket)
	q.Set("quantity", qty.String())

	body, err := c.request(http.MethodPost, "/fapi/v1/order", q, true)
	if err != nil {
		return OrderResult{}, err
	}
	var raw orderResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderResult{}, fmt.Errorf("decode order: %w", err)
	}

	ack := ackFromResponse(raw)
	price := c.ResolveExecutionPrice(symbol, ack)

	result := OrderResult{
		OrderID:  ack.OrderID,
		Symbol:   symbol,
		Side:     side,
		Quantity: qty,
		Price:    price,
	}

	if stopLoss.IsPositive() {
		if err := c.placeProtective(symbol, side, OrderStopMarket, stopLoss); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("stop-loss order failed, manual SL stays active")
		} else {
			result.StopLossPlaced = true
		}
	}
	if takeProfit.IsPositive() {
		if err := c.placeProtective(symbol, side, OrderTakeProfit, takeProfit); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("take-profit order failed, manual TP stays active")
		} else {
			result.TakeProfitPlaced = true
		}
	}

	log.Info().
		Str("symbol", symbol).
		Str("side", side).
		Str("qty", qty.String()).
		Str("price", price.StringFixed(2)).
		Msg("✅ Order filled")
	return result, nil
}

// placeProtective places a close-position stop order on the opposite side of
// the entry.
func (c *Client) placeProtective(symbol, entrySide, orderType string, stopPrice decimal.Decimal) error {
	side := SideSell
	if entrySide == SideSell {
		side = SideBuy
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("side", side)
	q.Set("type", orderType)
	q.Set("stopPrice", c.RoundPrice(symbol, stopPrice).String())
	q.Set("closePosition", "true")
	_, err := c.request(http.MethodPost, "/fapi/v1/order", q, true)
	return err
}

// ClosePosition sends a reverse MARKET order for the symbol's full position.
func (c *Client) ClosePosition(symbol string) (OrderResult, error) {
	pos, err := c.GetPosition(symbol)
	if err != nil {
		return OrderResult{}, err
	}
	if pos == nil {
		return OrderResult{}, fmt.Errorf("close %s: no open position", symbol)
	}

	side := SideSell
	if pos.Side == PositionShort {
		side = SideBuy
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("side", side)
	q.Set("type", OrderMarket)
	q.Set("quantity", pos.Quantity.String())

	body, err := c.request(http.MethodPost, "/fapi/v1/order", q, true)
	if err != nil {
		return OrderResult{}, err
	}
	var raw orderResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderResult{}, fmt.Errorf("decode order: %w", err)
	}

	ack := ackFromResponse(raw)
	price := c.ResolveExecutionPrice(symbol, ack)

	log.Info().
		Str("symbol", symbol).
		Str("side", side).
		Str("price", price.StringFixed(2)).
		Msg("✅ Position closed")
	return OrderResult{
		OrderID:  ack.OrderID,
		Symbol:   symbol,
		Side:     side,
		Quantity: pos.Quantity,
		Price:    price,
	}, nil
}

// ResolveExecutionPrice finds the actual fill price of an order through the
// fallback ladder: response average, VWAP of fills, order re-query with
// backoff, position entry, ticker. The last rung always yields a price, so
// a filled order is never recorded at zero.
func (c *Client) ResolveExecutionPrice(symbol string, ack OrderAck) decimal.Decimal {
	if ack.AvgPrice.IsPositive() {
		return ack.AvgPrice
	}

	if len(ack.Fills) > 0 {
		totalQty := decimal.Zero
		totalValue := decimal.Zero
		for _, f := range ack.Fills {
			totalQty = totalQty.Add(f.Qty)
			totalValue = totalValue.Add(f.Qty.Mul(f.Price))
		}
		if totalQty.IsPositive() {
			return totalValue.Div(totalQty)
		}
	}

	for attempt := 1; attempt <= 3; attempt++ {
		time.Sleep(time.Duration(attempt) * c.requeryDelay)
		requeried, err := c.GetOrder(symbol, ack.OrderID)
		if err != nil {
			continue
		}
		if requeried.AvgPrice.IsPositive() {
			return requeried.AvgPrice
		}
	}

	if pos, err := c.GetPosition(symbol); err == nil && pos != nil && pos.EntryPrice.IsPositive() {
		return pos.EntryPrice
	}

	price, err := c.GetPrice(symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("execution price unresolved, recording zero")
		return decimal.Zero
	}
	log.Warn().Str("symbol", symbol).Msg("using ticker price as execution-price fallback")
	return price
}

func ackFromResponse(raw orderResponse) OrderAck {
	ack := OrderAck{
		OrderID:  strconv.FormatInt(raw.OrderID, 10),
		AvgPrice: raw.AvgPrice,
	}
	for _, f := range raw.Fills {
		ack.Fills = append(ack.Fills, Fill{Price: f.Price, Qty: f.Qty})
	}
	return ack
}
