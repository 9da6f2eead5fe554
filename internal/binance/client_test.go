package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exchangeInfoBody = `{"symbols":[{"symbol":"BTCUSDT","filters":[
	{"filterType":"LOT_SIZE","minQty":"0.00100000","stepSize":"0.00100000"},
	{"filterType":"PRICE_FILTER","tickSize":"0.01000000"}
]}]}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{
		BaseURL:   srv.URL,
		APIKey:    "test-key",
		APISecret: "test-secret",
	})
	c.requeryDelay = time.Millisecond
	return c, srv
}

func loadFilters(t *testing.T, c *Client) {
	t.Helper()
	require.NoError(t, c.loadExchangeInfo())
}

func TestSignatureDeterministic(t *testing.T) {
	c := NewClient(ClientConfig{APISecret: "secret"})

	q := url.Values{}
	q.Set("symbol", "BTCUSDT")
	q.Set("timestamp", "1700000000000")
	q.Set("recvWindow", "5000")

	first := c.sign(q)
	second := c.sign(q)
	assert.Equal(t, first, second)

	// Known vector: hex HMAC-SHA256 over the sorted, urlencoded params.
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(q.Encode()))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), first)
}

func TestSignedRequestCarriesTimestampAndKey(t *testing.T) {
	var gotKey string
	var gotQuery url.Values
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-MBX-APIKEY")
		gotQuery = r.URL.Query()
		fmt.Fprint(w, `{"totalWalletBalance":"1000","availableBalance":"1000","positions":[]}`)
	})

	_, err := c.GetAccount()
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotKey)
	assert.NotEmpty(t, gotQuery.Get("timestamp"))
	assert.NotEmpty(t, gotQuery.Get("signature"))
	assert.Equal(t, "5000", gotQuery.Get("recvWindow"))
}

func TestRoundingIdempotent(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, exchangeInfoBody)
	})
	loadFilters(t, c)

	q := decimal.RequireFromString("0.0012349")
	once := c.RoundQuantity("BTCUSDT", q)
	assert.True(t, once.Equal(c.RoundQuantity("BTCUSDT", once)), "round(round(q)) == round(q)")
	assert.Equal(t, "0.001", once.String())

	p := decimal.RequireFromString("42123.456789")
	pOnce := c.RoundPrice("BTCUSDT", p)
	assert.True(t, pOnce.Equal(c.RoundPrice("BTCUSDT", pOnce)))
	assert.Equal(t, "42123.46", pOnce.String())
}

func TestRoundQuantityDownNeverRoundsUp(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, exchangeInfoBody)
	})
	loadFilters(t, c)

	q := decimal.RequireFromString("0.0019")
	assert.Equal(t, "0.001", c.RoundQuantityDown("BTCUSDT", q).String())
	assert.Equal(t, "0.002", c.RoundQuantity("BTCUSDT", q).String())
}

func TestStepPrecision(t *testing.T) {
	cases := []struct {
		step string
		want int
	}{
		{"0.00100000", 3},
		{"0.01000000", 2},
		{"1.00000000", 0},
		{"0.00000100", 6},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, stepPrecision(tc.step), "step %s", tc.step)
	}
}

func TestErrorEnvelope(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-2019,"msg":"Margin is insufficient."}`)
	})

	err := c.SetLeverage("BTCUSDT", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Margin is insufficient.")
	assert.Contains(t, err.Error(), "-2019")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 5; i++ {
		require.Error(t, c.Ping())
	}
	served := calls.Load()

	// Breaker is open now: the request never reaches the server.
	require.Error(t, c.Ping())
	assert.Equal(t, served, calls.Load())
}

func TestExecutionPriceFromAvg(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	price := c.ResolveExecutionPrice("BTCUSDT", OrderAck{
		OrderID:  "1",
		AvgPrice: decimal.RequireFromString("42000.5"),
	})
	assert.Equal(t, "42000.5", price.String())
}

func TestExecutionPriceFromFillsVWAP(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	price := c.ResolveExecutionPrice("BTCUSDT", OrderAck{
		OrderID: "1",
		Fills: []Fill{
			{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)},
			{Price: decimal.NewFromInt(110), Qty: decimal.NewFromInt(3)},
		},
	})
	assert.Equal(t, "107.5", price.String())
}

func TestExecutionPriceFromOrderRequery(t *testing.T) {
	var queries atomic.Int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fapi/v1/order", r.URL.Path)
		n := queries.Add(1)
		if n < 2 {
			fmt.Fprint(w, `{"orderId":1,"avgPrice":"0"}`)
			return
		}
		fmt.Fprint(w, `{"orderId":1,"avgPrice":"42001.00"}`)
	})

	price := c.ResolveExecutionPrice("BTCUSDT", OrderAck{OrderID: "1"})
	assert.Equal(t, "42001", price.String())
	assert.Equal(t, int64(2), queries.Load())
}

func TestExecutionPriceFallsBackToTicker(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/order":
			fmt.Fprint(w, `{"orderId":1,"avgPrice":"0"}`)
		case "/fapi/v2/account":
			fmt.Fprint(w, `{"totalWalletBalance":"1000","availableBalance":"1000","positions":[]}`)
		case "/fapi/v1/ticker/price":
			fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"41999.90"}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	price := c.ResolveExecutionPrice("BTCUSDT", OrderAck{OrderID: "1"})
	assert.Equal(t, "41999.9", price.String())
}

func TestGetPositionMapsSides(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"totalWalletBalance":"10000","availableBalance":"9000","positions":[
			{"symbol":"BTCUSDT","positionAmt":"-0.5","entryPrice":"42000","unRealizedProfit":"12.5","leverage":"5"},
			{"symbol":"ETHUSDT","positionAmt":"0","entryPrice":"0","unRealizedProfit":"0","leverage":"5"}
		]}`)
	})

	pos, err := c.GetPosition("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, PositionShort, pos.Side)
	assert.Equal(t, "0.5", pos.Quantity.String())
	assert.Equal(t, 5, pos.Leverage)

	flat, err := c.GetPosition("ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, flat)
}

func TestGetKlinesDerivesDelta(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[1700000000000,"100","105","99","104","1000",1700000059999,"0","10","600","0","0"]]`)
	})

	bars, err := c.GetKlines("BTCUSDT", "1m", 1)
	require.NoError(t, err)
	require.Len(t, bars, 1)

	b := bars[0]
	assert.True(t, b.Closed)
	assert.Equal(t, 600.0, b.BuyVolume)
	assert.Equal(t, 400.0, b.SellVolume)
	assert.Equal(t, 200.0, b.Delta)
}
