// Package runner drives one live stream: feed in, analytics per closed bar,
// execution out, plus the per-stream health monitor.
package runner

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantevo/vortexbot/internal/binance"
	"github.com/quantevo/vortexbot/internal/events"
	"github.com/quantevo/vortexbot/internal/market"
	"github.com/quantevo/vortexbot/internal/metrics"
	"github.com/quantevo/vortexbot/internal/predictive"
	"github.com/quantevo/vortexbot/internal/signal"
	"github.com/quantevo/vortexbot/internal/topology"
	"github.com/quantevo/vortexbot/internal/trading"
)

const (
	windowCap       = 200
	warmupMinBars   = 5
	neutralLogEvery = 10
	statusLogEvery  = 10

	defaultStaleAfter = 120 * time.Second
)

// Feed is the bar source the runner consumes. *binance.KlineFeed satisfies
// it; tests push bars through a stub.
type Feed interface {
	OnBar(func(market.Bar))
	Start()
	Stop()
	State() binance.FeedState
	Connected() bool
	LastMessageTime() time.Time
	Reconnects() int64
	LagDropped() int64
	ForceDisconnect()
}

// Broker is the slice of the exchange client the runner itself needs:
// historical bars for warmup, balance for broadcasts, liveness for health.
type Broker interface {
	GetKlines(symbol, interval string, limit int) ([]market.Bar, error)
	GetBalance() (decimal.Decimal, error)
	Ping() error
	Connect() error
	Connected() bool
}

// fusionEngine fuses a predictive snapshot and the recent bars into signals.
// *signal.Engine is the production implementation.
type fusionEngine interface {
	Compute(st *signal.State, pred predictive.Snapshot, bars []market.Bar) []signal.Signal
}

// SignalArchiver mirrors signal events into a secondary store, best-effort.
type SignalArchiver interface {
	SaveSignal(ev events.SignalEvent) error
}

// Update is one frame pushed to subscribers after each closed bar. Type is
// "signal" when a directional signal was emitted on this bar, else "update".
type Update struct {
	Type       string              `json:"type"`
	Symbol     string              `json:"symbol"`
	Timeframe  string              `json:"timeframe"`
	Bar        market.Bar          `json:"bar"`
	Topology   topology.Snapshot   `json:"topology"`
	Predictive predictive.Snapshot `json:"predictive"`
	Signals    []signal.Signal     `json:"signals,omitempty"`
	Stats      trading.Stats       `json:"stats"`
	Balance    float64             `json:"balance"`
}

// Status is a point-in-time snapshot of one runner.
type Status struct {
	Symbol           string              `json:"symbol"`
	Timeframe        string              `json:"timeframe"`
	Running          bool                `json:"running"`
	FeedState        binance.FeedState   `json:"feed_state"`
	LastBar          time.Time           `json:"last_bar"`
	BarsProcessed    int64               `json:"bars_processed"`
	SignalsGenerated int64               `json:"signals_generated"`
	TradesExecuted   int64               `json:"trades_executed"`
	LagDropped       int64               `json:"lag_dropped"`
	Topology         topology.Snapshot   `json:"topology"`
	Predictive       predictive.Snapshot `json:"predictive"`
	LastSignal       signal.Signal       `json:"last_signal"`
	Stats            trading.Stats       `json:"stats"`
}

// StreamRunner owns everything for one (symbol, timeframe): the feed, the
// bar window, the three analytic engines, the execution manager and the
// subscriber set. Bar handling is serialised by the feed's dispatch loop.
type StreamRunner struct {
	symbol    string
	timeframe string

	feed    Feed
	broker  Broker
	manager *trading.Manager
	signals *events.SignalLogger
	archive SignalArchiver

	topo     *topology.Engine
	pred     *predictive.Engine
	fusion   fusionEngine
	sigState *signal.State

	staleAfter time.Duration
	health     *HealthMonitor

	mu               sync.RWMutex
	running          bool
	window           *market.BarWindow
	barsProcessed    int64
	signalsGenerated int64
	tradesExecuted   int64
	lastBar          time.Time
	lastTopo         topology.Snapshot
	lastPred         predictive.Snapshot
	lastSignal       signal.Signal
	subscribers      map[chan Update]struct{}
}

// NewStreamRunner wires a runner for symbol/timeframe. The manager must not
// be started yet; Start handles the full lifecycle.
func NewStreamRunner(symbol, timeframe string, feed Feed, broker Broker, manager *trading.Manager, signals *events.SignalLogger) *StreamRunner {
	return &StreamRunner{
		symbol:      symbol,
		timeframe:   timeframe,
		feed:        feed,
		broker:      broker,
		manager:     manager,
		signals:     signals,
		topo:        topology.NewEngine(windowCap),
		pred:        predictive.NewEngine(predictive.DefaultConfig()),
		fusion:      signal.NewEngine(signal.DefaultConfig()),
		sigState:    signal.NewState(),
		staleAfter:  defaultStaleAfter,
		window:      market.NewBarWindow(windowCap),
		subscribers: make(map[chan Update]struct{}),
	}
}

// SetArchiver attaches an optional secondary store for signal events.
// Must be called before Start.
func (r *StreamRunner) SetArchiver(a SignalArchiver) {
	r.archive = a
}

// SetFeedStaleAfter overrides the health monitor's staleness threshold.
// Must be called before Start.
func (r *StreamRunner) SetFeedStaleAfter(d time.Duration) {
	if d > 0 {
		r.staleAfter = d
	}
}

// Key returns the registry key for this runner.
func (r *StreamRunner) Key() string {
	return r.symbol + "|" + r.timeframe
}

// Start brings the stream up: execution manager, historical warmup, live
// feed, health monitor.
func (r *StreamRunner) Start() error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner %s already running", r.Key())
	}
	r.running = true
	r.mu.Unlock()

	if err := r.manager.Start(); err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("start execution manager: %w", err)
	}

	r.warmup()

	r.feed.OnBar(r.handleBar)
	r.feed.Start()

	r.health = NewHealthMonitor(r.symbol, r.feed, r.broker, r.staleAfter)
	r.health.Start()

	log.Info().
		Str("symbol", r.symbol).
		Str("timeframe", r.timeframe).
		Msg("🚀 Stream runner started")
	return nil
}

// warmup seeds the window with historical closed bars so analytics are live
// from the first streamed bar.
func (r *StreamRunner) warmup() {
	bars, err := r.broker.GetKlines(r.symbol, r.timeframe, windowCap)
	if err != nil {
		log.Warn().Err(err).
			Str("symbol", r.symbol).
			Msg("warmup backfill failed, starting cold")
		return
	}

	r.mu.Lock()
	for _, b := range bars {
		if b.Closed && b.Valid() {
			r.window.Append(b)
		}
	}
	n := r.window.Len()
	r.mu.Unlock()

	log.Info().
		Str("symbol", r.symbol).
		Str("timeframe", r.timeframe).
		Int("bars", n).
		Msg("🔥 Window warmed up")
}

// Stop shuts the stream down. Broker positions stay open on the exchange
// and are re-adopted on the next start.
func (r *StreamRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	if r.health != nil {
		r.health.Stop()
	}
	r.feed.Stop()
	r.manager.Stop()

	stats := r.manager.Stats()
	log.Info().
		Str("symbol", r.symbol).
		Str("timeframe", r.timeframe).
		Int64("bars", r.BarsProcessed()).
		Int64("signals", r.SignalsGenerated()).
		Int64("trades", r.TradesExecuted()).
		Str("pnl", stats.TotalPnL.StringFixed(4)).
		Msg("🏁 Stream runner stopped")
}

// handleBar is the per-closed-bar pipeline. Invoked serially by the feed's
// dispatch loop.
func (r *StreamRunner) handleBar(bar market.Bar) {
	r.mu.Lock()
	r.window.Append(bar)
	r.barsProcessed++
	n := r.barsProcessed
	r.lastBar = bar.Timestamp
	bars := r.window.Bars()
	r.mu.Unlock()

	metrics.BarsProcessed.WithLabelValues(r.symbol, r.timeframe).Inc()

	if len(bars) < warmupMinBars {
		log.Debug().
			Str("symbol", r.symbol).
			Int("bars", len(bars)).
			Msg("window too small, skipping analytics")
		return
	}

	topoSnap := r.topo.Compute(r.symbol, bars)
	predSnap := r.pred.Compute(r.symbol, bars)
	sigs := r.fusion.Compute(r.sigState, predSnap, bars)

	var emitted []signal.Signal
	for _, s := range sigs {
		metrics.Signals.WithLabelValues(r.symbol, r.timeframe, s.Type).Inc()

		if s.Type == signal.TypeNeutral {
			if n%neutralLogEvery == 0 {
				r.persistSignal(s, events.NewID(), trading.Decision{
					Outcome: trading.OutcomeIgnored,
					Reason:  "neutral signal",
				})
			}
			continue
		}

		r.mu.Lock()
		r.signalsGenerated++
		r.lastSignal = s
		r.mu.Unlock()

		id := events.NewID()
		dec := r.manager.ProcessSignal(s, id)
		r.persistSignal(s, id, dec)
		metrics.Decisions.WithLabelValues(dec.Outcome).Inc()

		if dec.Outcome == trading.OutcomeExecuted {
			r.mu.Lock()
			r.tradesExecuted++
			r.mu.Unlock()
		}

		log.Info().
			Str("symbol", r.symbol).
			Str("type", s.Type).
			Float64("confidence", s.Confidence).
			Str("decision", dec.Outcome).
			Str("reason", dec.Reason).
			Msg("⚡ Signal")
		emitted = append(emitted, s)
	}

	if n%statusLogEvery == 0 {
		log.Info().
			Str("symbol", r.symbol).
			Str("timeframe", r.timeframe).
			Int64("bars", n).
			Float64("close", bar.Close).
			Float64("ifi", predSnap.IFI).
			Float64("bp_up", predSnap.BreakoutUp).
			Float64("coherence", topoSnap.Coherence).
			Msg("📊 Status")
	}

	if err := r.manager.CheckPositionStatus(); err != nil {
		log.Error().Err(err).Str("symbol", r.symbol).Msg("position status check failed")
	}

	r.mu.Lock()
	r.lastTopo = topoSnap
	r.lastPred = predSnap
	r.mu.Unlock()

	r.broadcast(bar, topoSnap, predSnap, emitted)
}

// persistSignal writes the SignalEvent for an emitted signal and its
// execution decision.
func (r *StreamRunner) persistSignal(s signal.Signal, id string, dec trading.Decision) {
	ev := events.SignalEvent{
		ID:            id,
		TS:            s.Timestamp,
		Symbol:        r.symbol,
		Timeframe:     r.timeframe,
		SignalType:    s.Type,
		Strength:      s.Confidence,
		Delta:         s.Delta,
		IFI:           s.IFI,
		Vortex:        s.BreakoutProb,
		Regime:        s.Regime,
		Decision:      dec.Outcome,
		Reason:        dec.Reason,
		LinkedTradeID: dec.TradeID,
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}
	if err := r.signals.Log(ev); err != nil {
		log.Error().Err(err).Str("signal_id", id).Msg("signal event persist failed")
	}
	if r.archive != nil {
		if err := r.archive.SaveSignal(ev); err != nil {
			log.Warn().Err(err).Str("signal_id", id).Msg("signal archive failed")
		}
	}
}

// Subscribe registers a channel for update frames. Slow subscribers are
// dropped rather than blocking the bar pipeline.
func (r *StreamRunner) Subscribe(ch chan Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[ch] = struct{}{}
}

// Unsubscribe removes a previously registered channel.
func (r *StreamRunner) Unsubscribe(ch chan Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, ch)
}

// broadcast pushes one frame to every subscriber, best-effort. A subscriber
// whose channel is full is removed.
func (r *StreamRunner) broadcast(bar market.Bar, topo topology.Snapshot, pred predictive.Snapshot, sigs []signal.Signal) {
	r.mu.RLock()
	if len(r.subscribers) == 0 {
		r.mu.RUnlock()
		return
	}
	targets := make([]chan Update, 0, len(r.subscribers))
	for ch := range r.subscribers {
		targets = append(targets, ch)
	}
	r.mu.RUnlock()

	frameType := "update"
	if len(sigs) > 0 {
		frameType = "signal"
	}

	balance := 0.0
	if bal, err := r.broker.GetBalance(); err == nil {
		balance = bal.InexactFloat64()
		metrics.Equity.Set(balance)
	}

	frame := Update{
		Type:       frameType,
		Symbol:     r.symbol,
		Timeframe:  r.timeframe,
		Bar:        bar,
		Topology:   topo,
		Predictive: pred,
		Signals:    sigs,
		Stats:      r.manager.Stats(),
		Balance:    balance,
	}

	for _, ch := range targets {
		select {
		case ch <- frame:
		default:
			log.Warn().Str("symbol", r.symbol).Msg("subscriber lagging, dropped")
			r.Unsubscribe(ch)
		}
	}
}

// Status returns a snapshot of the runner.
func (r *StreamRunner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		Symbol:           r.symbol,
		Timeframe:        r.timeframe,
		Running:          r.running,
		FeedState:        r.feed.State(),
		LastBar:          r.lastBar,
		BarsProcessed:    r.barsProcessed,
		SignalsGenerated: r.signalsGenerated,
		TradesExecuted:   r.tradesExecuted,
		LagDropped:       r.feed.LagDropped(),
		Topology:         r.lastTopo,
		Predictive:       r.lastPred,
		LastSignal:       r.lastSignal,
		Stats:            r.manager.Stats(),
	}
}

// BarsProcessed returns the closed-bar counter.
func (r *StreamRunner) BarsProcessed() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.barsProcessed
}

// SignalsGenerated returns the directional-signal counter.
func (r *StreamRunner) SignalsGenerated() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.signalsGenerated
}

// TradesExecuted returns the executed-trade counter.
func (r *StreamRunner) TradesExecuted() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tradesExecuted
}
