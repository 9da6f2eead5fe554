package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quantevo/vortexbot/internal/market"
	"github.com/quantevo/vortexbot/internal/metrics"
)

// Stream WS base URLs.
const (
	MainnetWSURL = "wss://fstream.binance.com/ws"
	TestnetWSURL = "wss://stream.binancefuture.com/ws"
)

const (
	feedPingInterval = 20 * time.Second
	feedReadTimeout  = 30 * time.Second
	feedHistoryCap   = 200
)

// FeedState is the connection state of a KlineFeed.
type FeedState string

const (
	FeedDisconnected FeedState = "DISCONNECTED"
	FeedConnecting   FeedState = "CONNECTING"
	FeedConnected    FeedState = "CONNECTED"
	FeedClosing      FeedState = "CLOSING"
)

// KlineFeed streams live klines for one (symbol, interval) over WebSocket.
// The registered handler is invoked exactly once per closed bar, serialised
// in bar order on a dedicated dispatch goroutine. If the handler is still
// busy when the next bar closes, at most one bar stays pending; older
// pending bars are dropped and counted as lag.
type KlineFeed struct {
	symbol   string
	interval string
	wsURL    string

	mu          sync.RWMutex
	conn        *websocket.Conn
	state       FeedState
	running     bool
	handler     func(market.Bar)
	current     market.Bar
	hasCurrent  bool
	lastMessage time.Time
	reconnects  int64
	lagDropped  int64

	history *market.BarWindow
	stopCh  chan struct{}
	barCh   chan market.Bar
}

// NewKlineFeed creates a feed for symbol/interval against the given WS base
// URL (MainnetWSURL when empty).
func NewKlineFeed(wsURL, symbol, interval string) *KlineFeed {
	if wsURL == "" {
		wsURL = MainnetWSURL
	}
	return &KlineFeed{
		symbol:   strings.ToUpper(symbol),
		interval: interval,
		wsURL:    strings.TrimRight(wsURL, "/"),
		state:    FeedDisconnected,
		history:  market.NewBarWindow(feedHistoryCap),
		stopCh:   make(chan struct{}),
		barCh:    make(chan market.Bar, 1),
	}
}

// OnBar registers the closed-bar handler. Must be called before Start.
func (f *KlineFeed) OnBar(handler func(market.Bar)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

// Start spawns the connection and dispatch loops.
func (f *KlineFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.connectionLoop()
	go f.dispatchLoop()

	log.Info().Str("symbol", f.symbol).Str("interval", f.interval).Msg("📡 Kline feed started")
}

// Stop flips running off and closes the socket.
func (f *KlineFeed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.state = FeedClosing
	conn := f.conn
	f.mu.Unlock()

	close(f.stopCh)
	if conn != nil {
		conn.Close()
	}

	f.mu.Lock()
	f.state = FeedDisconnected
	f.mu.Unlock()

	log.Info().Str("symbol", f.symbol).Str("interval", f.interval).Msg("Kline feed stopped")
}

// State returns the current connection state.
func (f *KlineFeed) State() FeedState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Connected reports whether the socket is live.
func (f *KlineFeed) Connected() bool {
	return f.State() == FeedConnected
}

// LastMessageTime returns the arrival time of the most recent frame.
func (f *KlineFeed) LastMessageTime() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastMessage
}

// CurrentBar returns the in-progress bar, if any frame has arrived.
func (f *KlineFeed) CurrentBar() (market.Bar, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current, f.hasCurrent
}

// Bars returns the last n closed bars from the feed-owned history.
func (f *KlineFeed) Bars(n int) []market.Bar {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.history.LastN(n)
}

// Reconnects returns how many reconnect attempts the feed has made.
func (f *KlineFeed) Reconnects() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.reconnects
}

// LagDropped returns how many pending bars were dropped because the handler
// lagged behind the stream.
func (f *KlineFeed) LagDropped() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lagDropped
}

// ForceDisconnect closes the socket so the reconnect loop drives recovery.
// Used by the health monitor when frames go stale.
func (f *KlineFeed) ForceDisconnect() {
	f.mu.Lock()
	conn := f.conn
	f.state = FeedDisconnected
	f.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	log.Warn().Str("symbol", f.symbol).Str("interval", f.interval).Msg("🔄 Feed force-disconnected")
}

// connectionLoop maintains the socket: connect, read until failure, back off
// min(5·attempt, 60) seconds, retry. The attempt counter resets on a
// successful connect.
func (f *KlineFeed) connectionLoop() {
	attempt := 0
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connect(); err != nil {
			attempt++
			delay := reconnectDelay(attempt)
			log.Error().Err(err).
				Str("symbol", f.symbol).
				Int("attempt", attempt).
				Dur("retry_in", delay).
				Msg("Feed connect failed")

			f.mu.Lock()
			f.reconnects++
			f.mu.Unlock()
			metrics.FeedReconnects.WithLabelValues(f.symbol, f.interval).Inc()

			select {
			case <-f.stopCh:
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		f.readLoop()

		f.mu.Lock()
		f.state = FeedDisconnected
		running := f.running
		f.mu.Unlock()

		if running {
			log.Warn().Str("symbol", f.symbol).Msg("Feed disconnected, reconnecting...")
		}
	}
}

// reconnectDelay is the capped backoff schedule: 5s, 10s, ..., 60s.
func reconnectDelay(attempt int) time.Duration {
	secs := 5 * attempt
	if secs > 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

func (f *KlineFeed) streamURL() string {
	return fmt.Sprintf("%s/%s@kline_%s", f.wsURL, strings.ToLower(f.symbol), f.interval)
}

func (f *KlineFeed) connect() error {
	f.mu.Lock()
	f.state = FeedConnecting
	f.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(f.streamURL(), nil)
	if err != nil {
		f.mu.Lock()
		f.state = FeedDisconnected
		f.mu.Unlock()
		return fmt.Errorf("dial %s: %w", f.streamURL(), err)
	}

	conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		return nil
	})

	f.mu.Lock()
	f.conn = conn
	f.state = FeedConnected
	f.lastMessage = time.Now()
	f.mu.Unlock()

	go f.pingLoop(conn)

	log.Info().Str("symbol", f.symbol).Str("interval", f.interval).Msg("🔌 Feed connected")
	return nil
}

// pingLoop keeps the socket alive; exits when its conn is replaced or the
// feed stops.
func (f *KlineFeed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.mu.RLock()
			stale := f.conn != conn
			f.mu.RUnlock()
			if stale {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *KlineFeed) readLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			f.mu.RLock()
			running := f.running
			f.mu.RUnlock()
			if running {
				log.Warn().Err(err).Str("symbol", f.symbol).Msg("Feed read error")
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		f.processFrame(message)
	}
}

// klineFrame is the exchange's kline event payload.
type klineFrame struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Kline     struct {
		OpenTime       int64  `json:"t"`
		CloseTime      int64  `json:"T"`
		Open           string `json:"o"`
		High           string `json:"h"`
		Low            string `json:"l"`
		Close          string `json:"c"`
		Volume         string `json:"v"`
		TakerBuyVolume string `json:"V"`
		Closed         bool   `json:"x"`
	} `json:"k"`
}

// parseFrame decodes a kline frame into a bar. The second return reports
// whether the bar is closed.
func parseFrame(data []byte) (market.Bar, bool, error) {
	var frame klineFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return market.Bar{}, false, fmt.Errorf("decode frame: %w", err)
	}
	if frame.EventType != "kline" {
		return market.Bar{}, false, fmt.Errorf("unexpected event %q", frame.EventType)
	}

	k := frame.Kline
	bar := market.Bar{
		Timestamp: time.UnixMilli(k.OpenTime),
		Open:      parseFeedFloat(k.Open),
		High:      parseFeedFloat(k.High),
		Low:       parseFeedFloat(k.Low),
		Close:     parseFeedFloat(k.Close),
		Volume:    parseFeedFloat(k.Volume),
		BuyVolume: parseFeedFloat(k.TakerBuyVolume),
		Closed:    k.Closed,
	}
	bar.SellVolume = bar.Volume - bar.BuyVolume
	bar.Delta = bar.BuyVolume - bar.SellVolume
	return bar, k.Closed, nil
}

func parseFeedFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func (f *KlineFeed) processFrame(data []byte) {
	bar, closed, err := parseFrame(data)
	if err != nil {
		return
	}
	if !bar.Valid() {
		log.Error().
			Str("symbol", f.symbol).
			Time("bar", bar.Timestamp).
			Msg("malformed bar skipped")
		return
	}

	f.mu.Lock()
	f.lastMessage = time.Now()
	f.current = bar
	f.hasCurrent = true
	if closed {
		f.history.Append(bar)
	}
	f.mu.Unlock()

	if closed {
		f.enqueue(bar)
	}
}

// enqueue hands a closed bar to the dispatch loop, keeping at most one bar
// pending.
func (f *KlineFeed) enqueue(bar market.Bar) {
	for {
		select {
		case f.barCh <- bar:
			return
		default:
		}
		select {
		case <-f.barCh:
			f.mu.Lock()
			f.lagDropped++
			f.mu.Unlock()
			metrics.FeedLagDropped.WithLabelValues(f.symbol, f.interval).Inc()
		default:
		}
	}
}

func (f *KlineFeed) dispatchLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		case bar := <-f.barCh:
			f.mu.RLock()
			handler := f.handler
			f.mu.RUnlock()
			if handler != nil {
				handler(bar)
			}
		}
	}
}
