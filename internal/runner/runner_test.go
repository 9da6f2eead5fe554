package runner

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantevo/vortexbot/internal/binance"
	"github.com/quantevo/vortexbot/internal/events"
	"github.com/quantevo/vortexbot/internal/market"
	"github.com/quantevo/vortexbot/internal/predictive"
	"github.com/quantevo/vortexbot/internal/signal"
	"github.com/quantevo/vortexbot/internal/trading"
)

// fakeFeed pushes bars synchronously into the registered handler.
type fakeFeed struct {
	handler          func(market.Bar)
	started          bool
	stopped          bool
	state            binance.FeedState
	lastMsg          time.Time
	forceDisconnects int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{state: binance.FeedConnected, lastMsg: time.Now()}
}

func (f *fakeFeed) OnBar(h func(market.Bar)) { f.handler = h }
func (f *fakeFeed) Start()                   { f.started = true }
func (f *fakeFeed) Stop()                    { f.stopped = true }
func (f *fakeFeed) State() binance.FeedState { return f.state }
func (f *fakeFeed) Connected() bool          { return f.state == binance.FeedConnected }

func (f *fakeFeed) LastMessageTime() time.Time { return f.lastMsg }
func (f *fakeFeed) Reconnects() int64          { return 0 }
func (f *fakeFeed) LagDropped() int64          { return 0 }
func (f *fakeFeed) ForceDisconnect()           { f.forceDisconnects++ }

func (f *fakeFeed) push(bar market.Bar) {
	if f.handler != nil {
		f.handler(bar)
	}
}

// stubBroker satisfies both the runner's and the execution manager's broker
// interfaces.
type stubBroker struct {
	balance    decimal.Decimal
	price      decimal.Decimal
	position   *binance.Position
	openOrders []binance.OpenOrder
	klines     []market.Bar

	pingErr     error
	connects    int
	openCalls   int
	closeCalls  int
	cancelCalls int
}

func newStubBroker() *stubBroker {
	return &stubBroker{
		balance: decimal.NewFromInt(10000),
		price:   decimal.NewFromInt(100),
	}
}

func (b *stubBroker) Connect() error  { b.connects++; return nil }
func (b *stubBroker) Connected() bool { return true }
func (b *stubBroker) Ping() error     { return b.pingErr }

func (b *stubBroker) GetKlines(string, string, int) ([]market.Bar, error) {
	return b.klines, nil
}

func (b *stubBroker) GetBalance() (decimal.Decimal, error)     { return b.balance, nil }
func (b *stubBroker) GetPrice(string) (decimal.Decimal, error) { return b.price, nil }

func (b *stubBroker) GetPosition(string) (*binance.Position, error) {
	if b.position == nil {
		return nil, nil
	}
	p := *b.position
	return &p, nil
}

func (b *stubBroker) SetLeverage(string, int) error { return nil }

func (b *stubBroker) OpenLong(symbol string, qty, sl, tp decimal.Decimal) (binance.OrderResult, error) {
	return b.open(symbol, binance.PositionLong, qty)
}

func (b *stubBroker) OpenShort(symbol string, qty, sl, tp decimal.Decimal) (binance.OrderResult, error) {
	return b.open(symbol, binance.PositionShort, qty)
}

func (b *stubBroker) open(symbol, side string, qty decimal.Decimal) (binance.OrderResult, error) {
	b.openCalls++
	b.position = &binance.Position{Symbol: symbol, Side: side, EntryPrice: b.price, Quantity: qty}
	return binance.OrderResult{
		OrderID:          "1",
		Symbol:           symbol,
		Quantity:         qty,
		Price:            b.price,
		StopLossPlaced:   true,
		TakeProfitPlaced: true,
	}, nil
}

func (b *stubBroker) ClosePosition(symbol string) (binance.OrderResult, error) {
	b.closeCalls++
	b.position = nil
	return binance.OrderResult{OrderID: "2", Symbol: symbol, Price: b.price}, nil
}

func (b *stubBroker) CancelAllOrders(string) error {
	b.cancelCalls++
	b.openOrders = nil
	return nil
}

func (b *stubBroker) GetOpenOrders(string) ([]binance.OpenOrder, error) {
	return b.openOrders, nil
}

func (b *stubBroker) RoundQuantityDown(_ string, q decimal.Decimal) decimal.Decimal {
	return q.RoundDown(3)
}

func (b *stubBroker) SymbolInfo(string) (binance.SymbolInfo, bool) {
	return binance.SymbolInfo{MinQty: decimal.RequireFromString("0.001")}, true
}

// stubFusion returns a scripted signal for every bar.
type stubFusion struct {
	sig signal.Signal
}

func (s *stubFusion) Compute(_ *signal.State, pred predictive.Snapshot, _ []market.Bar) []signal.Signal {
	out := s.sig
	out.Timestamp = pred.Timestamp
	return []signal.Signal{out}
}

func flatBar(i int) market.Bar {
	return market.Bar{
		Timestamp: time.Date(2026, 3, 1, 12, i, 0, 0, time.UTC),
		Open:      100, High: 100, Low: 100, Close: 100,
		Volume: 10, BuyVolume: 5, SellVolume: 5, Delta: 0,
		Closed: true,
	}
}

func newTestRunner(t *testing.T, feed *fakeFeed, broker *stubBroker) *StreamRunner {
	t.Helper()
	trades, err := events.NewTradeLogger(t.TempDir())
	require.NoError(t, err)
	signals, err := events.NewSignalLogger(t.TempDir())
	require.NoError(t, err)

	manager := trading.NewManager(trading.DefaultTradingConfig("BTCUSDT", "1m"), broker, trades)
	return NewStreamRunner("BTCUSDT", "1m", feed, broker, manager, signals)
}

func TestWarmupSeedsWindow(t *testing.T) {
	feed := newFakeFeed()
	broker := newStubBroker()
	for i := 0; i < 50; i++ {
		broker.klines = append(broker.klines, flatBar(i))
	}

	r := newTestRunner(t, feed, broker)
	require.NoError(t, r.Start())
	defer r.Stop()

	assert.True(t, feed.started)
	assert.Equal(t, 50, r.window.Len())
	assert.Equal(t, int64(0), r.BarsProcessed(), "warmup bars are not live bars")
}

func TestSmallWindowSkipsAnalytics(t *testing.T) {
	feed := newFakeFeed()
	broker := newStubBroker()
	r := newTestRunner(t, feed, broker)
	require.NoError(t, r.Start())
	defer r.Stop()

	for i := 0; i < 4; i++ {
		feed.push(flatBar(i))
	}

	assert.Equal(t, int64(4), r.BarsProcessed())
	assert.Equal(t, 0, r.signals.Len(), "no analytics below the minimum window")
}

func TestNeutralPersistedEveryTenthBar(t *testing.T) {
	feed := newFakeFeed()
	broker := newStubBroker()
	r := newTestRunner(t, feed, broker)
	require.NoError(t, r.Start())
	defer r.Stop()

	// Flat bars are deterministically neutral: zero volatility means no
	// simulated path can cross the breakout levels.
	for i := 0; i < 20; i++ {
		feed.push(flatBar(i))
	}

	evs := r.signals.Signals(events.SignalQuery{Symbol: "BTCUSDT"})
	require.Len(t, evs, 2) // bars 10 and 20
	for _, ev := range evs {
		assert.Equal(t, signal.TypeNeutral, ev.SignalType)
		assert.Equal(t, events.DecisionIgnored, ev.Decision)
	}
	assert.Equal(t, int64(0), r.SignalsGenerated())
}

func TestExecutedSignalFlow(t *testing.T) {
	feed := newFakeFeed()
	broker := newStubBroker()
	r := newTestRunner(t, feed, broker)
	r.fusion = &stubFusion{sig: signal.Signal{
		Symbol:     "BTCUSDT",
		Type:       signal.TypeLong,
		Confidence: 0.75,
		Regime:     signal.RegimeBullish,
	}}
	require.NoError(t, r.Start())
	defer r.Stop()

	for i := 0; i < 5; i++ {
		feed.push(flatBar(i))
	}

	// Analytics kick in on bar 5; the scripted LONG executes once.
	assert.Equal(t, int64(1), r.SignalsGenerated())
	assert.Equal(t, int64(1), r.TradesExecuted())
	assert.Equal(t, 1, broker.openCalls)

	evs := r.signals.Signals(events.SignalQuery{Symbol: "BTCUSDT"})
	require.Len(t, evs, 1)
	assert.Equal(t, events.DecisionExecuted, evs[0].Decision)
	assert.NotEmpty(t, evs[0].LinkedTradeID)

	// Next bar: same direction, blocked by the open position.
	feed.push(flatBar(5))
	assert.Equal(t, int64(2), r.SignalsGenerated())
	assert.Equal(t, int64(1), r.TradesExecuted())

	evs = r.signals.Signals(events.SignalQuery{Symbol: "BTCUSDT", Limit: 1})
	require.Len(t, evs, 1)
	assert.Equal(t, events.DecisionBlocked, evs[0].Decision)
	assert.Contains(t, evs[0].Reason, "already in LONG")
}

func TestBroadcastFrames(t *testing.T) {
	feed := newFakeFeed()
	broker := newStubBroker()
	r := newTestRunner(t, feed, broker)
	require.NoError(t, r.Start())
	defer r.Stop()

	ch := make(chan Update, 16)
	r.Subscribe(ch)

	for i := 0; i < 6; i++ {
		feed.push(flatBar(i))
	}

	// Bars 5 and 6 carry analytics and broadcast.
	require.Len(t, ch, 2)
	frame := <-ch
	assert.Equal(t, "update", frame.Type)
	assert.Equal(t, "BTCUSDT", frame.Symbol)
	assert.Equal(t, 10000.0, frame.Balance)
	assert.Equal(t, 100.0, frame.Bar.Close)
}

func TestSlowSubscriberDropped(t *testing.T) {
	feed := newFakeFeed()
	broker := newStubBroker()
	r := newTestRunner(t, feed, broker)
	require.NoError(t, r.Start())
	defer r.Stop()

	full := make(chan Update) // unbuffered, nobody reading
	r.Subscribe(full)

	for i := 0; i < 5; i++ {
		feed.push(flatBar(i))
	}

	r.mu.RLock()
	_, present := r.subscribers[full]
	r.mu.RUnlock()
	assert.False(t, present)
}

func TestOrphanOrdersCancelledOnBar(t *testing.T) {
	feed := newFakeFeed()
	broker := newStubBroker()
	broker.openOrders = []binance.OpenOrder{{OrderID: 3, Type: binance.OrderStopMarket}}
	r := newTestRunner(t, feed, broker)
	require.NoError(t, r.Start())
	defer r.Stop()

	for i := 0; i < 5; i++ {
		feed.push(flatBar(i))
	}

	assert.GreaterOrEqual(t, broker.cancelCalls, 1)
}

func TestStatusSnapshot(t *testing.T) {
	feed := newFakeFeed()
	broker := newStubBroker()
	r := newTestRunner(t, feed, broker)
	require.NoError(t, r.Start())

	for i := 0; i < 7; i++ {
		feed.push(flatBar(i))
	}

	st := r.Status()
	assert.Equal(t, "BTCUSDT", st.Symbol)
	assert.Equal(t, "1m", st.Timeframe)
	assert.True(t, st.Running)
	assert.Equal(t, binance.FeedConnected, st.FeedState)
	assert.Equal(t, int64(7), st.BarsProcessed)
	assert.Equal(t, flatBar(6).Timestamp, st.LastBar)

	r.Stop()
	assert.True(t, feed.stopped)
	assert.False(t, r.Status().Running)
}

func TestHealthMonitorForcesStaleFeed(t *testing.T) {
	feed := newFakeFeed()
	broker := newStubBroker()
	h := NewHealthMonitor("BTCUSDT", feed, broker, 120*time.Second)

	// Fresh: nothing happens.
	h.check()
	assert.Equal(t, 0, feed.forceDisconnects)

	// Connected but silent beyond the threshold: force the reconnect.
	feed.lastMsg = time.Now().Add(-3 * time.Minute)
	h.check()
	assert.Equal(t, 1, feed.forceDisconnects)

	// Already disconnected: the reconnect loop owns recovery.
	feed.state = binance.FeedDisconnected
	h.check()
	assert.Equal(t, 1, feed.forceDisconnects)
}

func TestHealthMonitorReconnectsBroker(t *testing.T) {
	feed := newFakeFeed()
	broker := newStubBroker()
	broker.pingErr = assert.AnError
	h := NewHealthMonitor("BTCUSDT", feed, broker, 120*time.Second)

	h.check()
	assert.Equal(t, 1, broker.connects)
}
