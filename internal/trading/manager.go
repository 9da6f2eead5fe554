// Package trading implements the execution state machine: one position per
// stream, risk-based sizing, protective orders, and the reversal guard.
package trading

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantevo/vortexbot/internal/binance"
	"github.com/quantevo/vortexbot/internal/events"
	"github.com/quantevo/vortexbot/internal/metrics"
	"github.com/quantevo/vortexbot/internal/signal"
)

// ErrNoPosition is returned by ClosePosition when there is nothing to close.
var ErrNoPosition = errors.New("trading: no open position")

// Trade status.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Decision outcomes from ProcessSignal.
const (
	OutcomeExecuted = "EXECUTED"
	OutcomeIgnored  = "IGNORED"
	OutcomeBlocked  = "BLOCKED"
)

// Broker is the consumer-side slice of the exchange client the manager uses.
type Broker interface {
	Connect() error
	Connected() bool
	GetBalance() (decimal.Decimal, error)
	GetPrice(symbol string) (decimal.Decimal, error)
	GetPosition(symbol string) (*binance.Position, error)
	SetLeverage(symbol string, leverage int) error
	OpenLong(symbol string, qty, stopLoss, takeProfit decimal.Decimal) (binance.OrderResult, error)
	OpenShort(symbol string, qty, stopLoss, takeProfit decimal.Decimal) (binance.OrderResult, error)
	ClosePosition(symbol string) (binance.OrderResult, error)
	CancelAllOrders(symbol string) error
	GetOpenOrders(symbol string) ([]binance.OpenOrder, error)
	RoundQuantityDown(symbol string, q decimal.Decimal) decimal.Decimal
	SymbolInfo(symbol string) (binance.SymbolInfo, bool)
}

// Notifier receives trade lifecycle notifications. Implementations must not
// block.
type Notifier interface {
	NotifyTradeOpened(ev events.TradeEvent)
	NotifyTradeClosed(ev events.TradeEvent)
}

// Archiver persists trade events to long-term storage.
type Archiver interface {
	SaveTrade(ev events.TradeEvent) error
}

// TradingConfig holds the execution parameters for one stream.
type TradingConfig struct {
	Symbol    string
	Timeframe string

	Leverage         int
	MaxPositionValue decimal.Decimal
	RiskPerTrade     decimal.Decimal

	StopLossPct   float64
	TakeProfitPct float64

	MinConfidence         float64
	MinReversalConfidence float64

	ReversalCooldownMinutes    float64
	ProtectProfitablePositions bool
	NeverReverseInProfit       bool
	MinLossBeforeReversal      float64

	TradingEnabled bool
}

// DefaultTradingConfig returns the production defaults for symbol/timeframe.
func DefaultTradingConfig(symbol, timeframe string) TradingConfig {
	return TradingConfig{
		Symbol:                     symbol,
		Timeframe:                  timeframe,
		Leverage:                   5,
		MaxPositionValue:           decimal.NewFromInt(1000),
		RiskPerTrade:               decimal.NewFromFloat(0.01),
		StopLossPct:                1.0,
		TakeProfitPct:              1.0,
		MinConfidence:              0.62,
		MinReversalConfidence:      0.70,
		ReversalCooldownMinutes:    25,
		ProtectProfitablePositions: true,
		NeverReverseInProfit:       true,
		MinLossBeforeReversal:      0.3,
		TradingEnabled:             true,
	}
}

// OpenTrade is the manager's record of the one live position. HasSLOrder and
// HasTPOrder track whether protective orders rest on the exchange; when false
// the manager enforces the level itself on each bar.
type OpenTrade struct {
	Timestamp  time.Time       `json:"timestamp"`
	SignalType string          `json:"signal_type"`
	Confidence float64         `json:"confidence"`
	Direction  string          `json:"direction"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Quantity   decimal.Decimal `json:"quantity"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	OrderID    string          `json:"order_id"`
	Status     string          `json:"status"`
	HasSLOrder bool            `json:"has_sl_order"`
	HasTPOrder bool            `json:"has_tp_order"`
}

// Decision is the outcome of ProcessSignal. Policy skips are decisions, not
// errors; Reason explains IGNORED/BLOCKED, TradeID links an EXECUTED signal
// to its TradeEvent.
type Decision struct {
	Outcome string
	Reason  string
	TradeID string
}

// Stats is a snapshot of the manager's counters.
type Stats struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	WinRate       float64         `json:"win_rate"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	HasPosition   bool            `json:"has_position"`
}

// Manager runs execution for one (symbol, timeframe) stream.
type Manager struct {
	cfg    TradingConfig
	broker Broker
	trades *events.TradeLogger

	notifier Notifier
	archive  Archiver

	mu            sync.Mutex
	running       bool
	trade         *OpenTrade
	totalTrades   int
	winningTrades int
	totalPnL      decimal.Decimal

	now func() time.Time
}

// NewManager creates an execution manager. The trade logger is required;
// notifier and archiver are optional and set with SetNotifier/SetArchiver.
func NewManager(cfg TradingConfig, broker Broker, trades *events.TradeLogger) *Manager {
	return &Manager{
		cfg:    cfg,
		broker: broker,
		trades: trades,
		now:    time.Now,
	}
}

// SetNotifier wires an optional trade notifier.
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// SetArchiver wires an optional trade archiver.
func (m *Manager) SetArchiver(a Archiver) { m.archive = a }

// Start connects the broker, sets leverage and adopts any live position.
func (m *Manager) Start() error {
	if !m.broker.Connected() {
		if err := m.broker.Connect(); err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
	}
	if err := m.broker.SetLeverage(m.cfg.Symbol, m.cfg.Leverage); err != nil {
		log.Warn().Err(err).Str("symbol", m.cfg.Symbol).Msg("set leverage failed")
	}
	if err := m.SyncExistingPosition(); err != nil {
		return err
	}

	m.mu.Lock()
	m.running = true
	m.mu.Unlock()

	log.Info().
		Str("symbol", m.cfg.Symbol).
		Str("timeframe", m.cfg.Timeframe).
		Bool("trading_enabled", m.cfg.TradingEnabled).
		Msg("💹 Execution manager started")
	return nil
}

// Stop halts signal processing. Broker positions are left open and re-adopted
// on the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.running = false
	hasPos := m.trade != nil
	m.mu.Unlock()

	log.Info().
		Str("symbol", m.cfg.Symbol).
		Bool("position_left_open", hasPos).
		Msg("Execution manager stopped")
}

// SyncExistingPosition adopts a live broker position into a fresh OpenTrade.
// Entry comes from the broker; SL/TP are derived from config unless real
// protective orders are found resting on the exchange.
func (m *Manager) SyncExistingPosition() error {
	pos, err := m.broker.GetPosition(m.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("sync position: %w", err)
	}
	if pos == nil {
		log.Info().Str("symbol", m.cfg.Symbol).Msg("No existing position to sync")
		return nil
	}

	entry := pos.EntryPrice
	trade := &OpenTrade{
		Timestamp:  m.now(),
		SignalType: "synced_position",
		Confidence: 1.0,
		Direction:  pos.Side,
		EntryPrice: entry,
		Quantity:   pos.Quantity,
		OrderID:    "synced",
		Status:     StatusOpen,
	}
	trade.StopLoss, trade.TakeProfit = m.protectiveLevels(pos.Side, entry)

	if orders, err := m.broker.GetOpenOrders(m.cfg.Symbol); err == nil {
		for _, o := range orders {
			switch {
			case strings.Contains(o.Type, "PROFIT"):
				if o.StopPrice.IsPositive() {
					trade.TakeProfit = o.StopPrice
					trade.HasTPOrder = true
				}
			case strings.Contains(o.Type, "STOP"):
				if o.StopPrice.IsPositive() {
					trade.StopLoss = o.StopPrice
					trade.HasSLOrder = true
				}
			}
		}
	}

	m.mu.Lock()
	m.trade = trade
	m.mu.Unlock()

	metrics.OpenPositions.WithLabelValues(m.cfg.Symbol).Set(1)
	log.Info().
		Str("symbol", m.cfg.Symbol).
		Str("direction", trade.Direction).
		Str("entry", entry.String()).
		Str("qty", trade.Quantity.String()).
		Bool("sl_on_exchange", trade.HasSLOrder).
		Bool("tp_on_exchange", trade.HasTPOrder).
		Msg("🔄 Adopted existing position")
	return nil
}

// ProcessSignal runs a fused signal through the execution policy. signalID is
// the SignalEvent id the trade links back to.
func (m *Manager) ProcessSignal(sig signal.Signal, signalID string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || !m.cfg.TradingEnabled {
		return Decision{Outcome: OutcomeIgnored, Reason: "trading disabled"}
	}
	if sig.Type == signal.TypeNeutral {
		return Decision{Outcome: OutcomeIgnored, Reason: "neutral signal"}
	}
	if sig.Confidence < m.cfg.MinConfidence {
		return Decision{
			Outcome: OutcomeIgnored,
			Reason:  fmt.Sprintf("confidence %.2f below minimum %.2f", sig.Confidence, m.cfg.MinConfidence),
		}
	}

	pos, err := m.broker.GetPosition(m.cfg.Symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", m.cfg.Symbol).Msg("position query failed")
		return Decision{Outcome: OutcomeIgnored, Reason: "broker error: " + err.Error()}
	}

	if pos == nil {
		if m.trade != nil {
			// Broker is flat but we still hold a record: the exchange closed
			// us out between bars. Clear local state before proceeding.
			log.Warn().Str("symbol", m.cfg.Symbol).Msg("local trade cleared, broker reports flat")
			m.trade = nil
			metrics.OpenPositions.WithLabelValues(m.cfg.Symbol).Set(0)
		}
		if orders, err := m.broker.GetOpenOrders(m.cfg.Symbol); err == nil && len(orders) > 0 {
			log.Warn().Int("orders", len(orders)).Str("symbol", m.cfg.Symbol).Msg("🧹 Cancelling orphan orders")
			if err := m.broker.CancelAllOrders(m.cfg.Symbol); err != nil {
				log.Error().Err(err).Str("symbol", m.cfg.Symbol).Msg("orphan cleanup failed")
			}
		}
	} else {
		if pos.Side == sig.Type {
			return Decision{
				Outcome: OutcomeBlocked,
				Reason:  fmt.Sprintf("already in %s position", pos.Side),
			}
		}

		allowed, reason := m.checkReversalAllowed(pos, sig.Confidence)
		if !allowed {
			log.Info().
				Str("symbol", m.cfg.Symbol).
				Str("from", pos.Side).
				Str("to", sig.Type).
				Str("reason", reason).
				Msg("🛡️ Reversal blocked")
			return Decision{Outcome: OutcomeBlocked, Reason: reason}
		}

		log.Info().
			Str("symbol", m.cfg.Symbol).
			Str("from", pos.Side).
			Str("to", sig.Type).
			Msg("🔀 Reversing position")
		if err := m.closeLocked("signal_reversal", signalID); err != nil {
			return Decision{Outcome: OutcomeIgnored, Reason: "reversal close failed: " + err.Error()}
		}
	}

	return m.openLocked(sig, signalID)
}

// openLocked sizes and opens a new position. Caller holds mu.
func (m *Manager) openLocked(sig signal.Signal, signalID string) Decision {
	balance, err := m.broker.GetBalance()
	if err != nil {
		return Decision{Outcome: OutcomeIgnored, Reason: "balance query failed: " + err.Error()}
	}
	price, err := m.broker.GetPrice(m.cfg.Symbol)
	if err != nil {
		return Decision{Outcome: OutcomeIgnored, Reason: "price query failed: " + err.Error()}
	}
	if !price.IsPositive() {
		return Decision{Outcome: OutcomeIgnored, Reason: "no market price"}
	}

	// qty = min(risk-based, value-capped), floored to the lot step.
	slFrac := decimal.NewFromFloat(m.cfg.StopLossPct / 100)
	riskQty := balance.Mul(m.cfg.RiskPerTrade).Div(price.Mul(slFrac))
	maxQty := m.cfg.MaxPositionValue.Div(price)
	qty := decimal.Min(riskQty, maxQty)
	qty = m.broker.RoundQuantityDown(m.cfg.Symbol, qty)

	if info, ok := m.broker.SymbolInfo(m.cfg.Symbol); ok && qty.LessThan(info.MinQty) {
		return Decision{
			Outcome: OutcomeIgnored,
			Reason:  fmt.Sprintf("quantity %s below minimum %s", qty, info.MinQty),
		}
	}
	if !qty.IsPositive() {
		return Decision{Outcome: OutcomeIgnored, Reason: "quantity rounds to zero"}
	}

	stopLoss, takeProfit := m.protectiveLevels(sig.Type, price)

	var result binance.OrderResult
	if sig.Type == signal.TypeLong {
		result, err = m.broker.OpenLong(m.cfg.Symbol, qty, stopLoss, takeProfit)
	} else {
		result, err = m.broker.OpenShort(m.cfg.Symbol, qty, stopLoss, takeProfit)
	}
	if err != nil {
		log.Error().Err(err).Str("symbol", m.cfg.Symbol).Str("type", sig.Type).Msg("order failed")
		return Decision{Outcome: OutcomeIgnored, Reason: "order failed: " + err.Error()}
	}

	entry := result.Price
	stopLoss, takeProfit = m.protectiveLevels(sig.Type, entry)

	m.trade = &OpenTrade{
		Timestamp:  m.now(),
		SignalType: sig.Type,
		Confidence: sig.Confidence,
		Direction:  sig.Type,
		EntryPrice: entry,
		Quantity:   result.Quantity,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OrderID:    result.OrderID,
		Status:     StatusOpen,
		HasSLOrder: result.StopLossPlaced,
		HasTPOrder: result.TakeProfitPlaced,
	}

	ev := events.TradeEvent{
		ID:         events.NewID(),
		TS:         m.now(),
		Symbol:     m.cfg.Symbol,
		Timeframe:  m.cfg.Timeframe,
		Side:       sideForDirection(sig.Type),
		Action:     events.ActionOpen,
		Qty:        result.Quantity.InexactFloat64(),
		EntryPrice: entry.InexactFloat64(),
		Reason:     sig.Type,
		SignalID:   signalID,
		Meta: map[string]any{
			"confidence":  sig.Confidence,
			"order_id":    result.OrderID,
			"stop_loss":   stopLoss.InexactFloat64(),
			"take_profit": takeProfit.InexactFloat64(),
		},
	}
	m.recordTrade(ev, true)

	metrics.Trades.WithLabelValues("open").Inc()
	metrics.OpenPositions.WithLabelValues(m.cfg.Symbol).Set(1)
	metrics.Equity.Set(balance.InexactFloat64())

	log.Info().
		Str("symbol", m.cfg.Symbol).
		Str("direction", sig.Type).
		Str("qty", result.Quantity.String()).
		Str("entry", entry.String()).
		Str("sl", stopLoss.String()).
		Str("tp", takeProfit.String()).
		Float64("confidence", sig.Confidence).
		Msg("✅ Position opened")

	return Decision{Outcome: OutcomeExecuted, TradeID: ev.ID}
}

// checkReversalAllowed applies the six ordered reversal rules. The first
// failing rule blocks with its reason. Caller holds mu; m.trade is non-nil
// when a reversal is being evaluated.
func (m *Manager) checkReversalAllowed(pos *binance.Position, newConfidence float64) (bool, string) {
	if newConfidence < m.cfg.MinReversalConfidence {
		return false, fmt.Sprintf("confidence %.0f%% < %.0f%% required for reversal",
			newConfidence*100, m.cfg.MinReversalConfidence*100)
	}

	if m.trade != nil {
		minutes := m.now().Sub(m.trade.Timestamp).Minutes()
		if minutes < m.cfg.ReversalCooldownMinutes {
			return false, fmt.Sprintf("cooldown active (%.1fmin < %.0fmin)",
				minutes, m.cfg.ReversalCooldownMinutes)
		}
	}

	price, err := m.broker.GetPrice(m.cfg.Symbol)
	if err != nil || !price.IsPositive() {
		return false, "no market price for pnl check"
	}
	pnlPct := pnlPercent(pos.Side, pos.EntryPrice, price)

	if pnlPct > 0 && m.cfg.NeverReverseInProfit {
		return false, fmt.Sprintf("in profit (%.2f%%) - waiting for TP/SL", pnlPct)
	}
	if pnlPct > 0.5 && m.cfg.ProtectProfitablePositions {
		return false, fmt.Sprintf("profitable (%.2f%%) - waiting for TP/SL", pnlPct)
	}
	if pnlPct < 0 && -pnlPct < m.cfg.MinLossBeforeReversal {
		return false, fmt.Sprintf("small loss (%.2f%%) - waiting for stop loss", pnlPct)
	}

	return true, ""
}

// CheckPositionStatus reconciles local state with the broker. Called on each
// closed bar: cleans up orphan orders, detects broker-side exits, and
// enforces SL/TP manually when no protective order rests on the exchange.
func (m *Manager) CheckPositionStatus() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.trade == nil {
		if orders, err := m.broker.GetOpenOrders(m.cfg.Symbol); err == nil && len(orders) > 0 {
			log.Warn().Int("orders", len(orders)).Str("symbol", m.cfg.Symbol).Msg("🧹 Cancelling orphan orders")
			return m.broker.CancelAllOrders(m.cfg.Symbol)
		}
		return nil
	}

	pos, err := m.broker.GetPosition(m.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("position query: %w", err)
	}
	price, err := m.broker.GetPrice(m.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("price query: %w", err)
	}

	if pos == nil {
		// The exchange closed us out (SL or TP hit broker-side). Classify by
		// realised pnl at the last seen price.
		pnl := pnlQuote(m.trade.Direction, m.trade.EntryPrice, price, m.trade.Quantity)
		reason := "stop_loss"
		action := events.ActionStopLoss
		if pnl.IsPositive() {
			reason = "take_profit"
			action = events.ActionTakeProfit
		}
		m.finalizeLocked(price, pnl, reason, action, "")
		return nil
	}

	pnlPct := pnlPercent(m.trade.Direction, m.trade.EntryPrice, price)

	if !m.trade.HasTPOrder && pnlPct >= m.cfg.TakeProfitPct {
		log.Info().Str("symbol", m.cfg.Symbol).Float64("pnl_pct", pnlPct).Msg("🎯 Manual take profit")
		return m.closeLocked("take_profit_manual", "")
	}
	if !m.trade.HasSLOrder && pnlPct <= -m.cfg.StopLossPct {
		log.Warn().Str("symbol", m.cfg.Symbol).Float64("pnl_pct", pnlPct).Msg("🛑 Manual stop loss")
		return m.closeLocked("stop_loss_manual", "")
	}

	return nil
}

// ClosePosition closes the live position with the given reason.
func (m *Manager) ClosePosition(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(reason, "")
}

// closeLocked sends the reverse MARKET order and finalises the trade. Caller
// holds mu.
func (m *Manager) closeLocked(reason, signalID string) error {
	if m.trade == nil {
		return ErrNoPosition
	}

	result, err := m.broker.ClosePosition(m.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}

	exit := result.Price
	pnl := pnlQuote(m.trade.Direction, m.trade.EntryPrice, exit, m.trade.Quantity)
	m.finalizeLocked(exit, pnl, reason, actionForReason(reason), signalID)
	return nil
}

// finalizeLocked books the exit: counters, TradeEvent, leftover-order
// cleanup, local state. Caller holds mu; m.trade is non-nil.
func (m *Manager) finalizeLocked(exit decimal.Decimal, pnl decimal.Decimal, reason, action, signalID string) {
	trade := m.trade

	m.totalTrades++
	win := pnl.IsPositive()
	if win {
		m.winningTrades++
	}
	m.totalPnL = m.totalPnL.Add(pnl)

	ev := events.TradeEvent{
		ID:         events.NewID(),
		TS:         m.now(),
		Symbol:     m.cfg.Symbol,
		Timeframe:  m.cfg.Timeframe,
		Side:       closeSideForDirection(trade.Direction),
		Action:     action,
		Qty:        trade.Quantity.InexactFloat64(),
		EntryPrice: trade.EntryPrice.InexactFloat64(),
		ExitPrice:  exit.InexactFloat64(),
		PnL:        pnl.InexactFloat64(),
		Reason:     reason,
		SignalID:   signalID,
		Meta:       map[string]any{"order_id": trade.OrderID},
	}
	m.recordTrade(ev, false)

	if err := m.broker.CancelAllOrders(m.cfg.Symbol); err != nil {
		log.Warn().Err(err).Str("symbol", m.cfg.Symbol).Msg("leftover order cleanup failed")
	}
	m.trade = nil

	result := "loss"
	if win {
		result = "win"
	}
	metrics.Trades.WithLabelValues(result).Inc()
	metrics.OpenPositions.WithLabelValues(m.cfg.Symbol).Set(0)

	log.Info().
		Str("symbol", m.cfg.Symbol).
		Str("direction", trade.Direction).
		Str("exit", exit.String()).
		Str("pnl", pnl.StringFixed(4)).
		Str("reason", reason).
		Msg("💰 Position closed")
}

// recordTrade persists the event to the JSONL log and the optional hooks.
func (m *Manager) recordTrade(ev events.TradeEvent, opened bool) {
	if m.trades != nil {
		if err := m.trades.Log(ev); err != nil {
			log.Error().Err(err).Str("trade_id", ev.ID).Msg("trade event persist failed")
		}
	}
	if m.archive != nil {
		if err := m.archive.SaveTrade(ev); err != nil {
			log.Warn().Err(err).Str("trade_id", ev.ID).Msg("trade archive failed")
		}
	}
	if m.notifier != nil {
		if opened {
			m.notifier.NotifyTradeOpened(ev)
		} else {
			m.notifier.NotifyTradeClosed(ev)
		}
	}
}

// CurrentTrade returns a copy of the live trade, or nil when flat.
func (m *Manager) CurrentTrade() *OpenTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trade == nil {
		return nil
	}
	t := *m.trade
	return &t
}

// Stats returns the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	winRate := 0.0
	if m.totalTrades > 0 {
		winRate = float64(m.winningTrades) / float64(m.totalTrades)
	}
	return Stats{
		TotalTrades:   m.totalTrades,
		WinningTrades: m.winningTrades,
		WinRate:       winRate,
		TotalPnL:      m.totalPnL,
		HasPosition:   m.trade != nil,
	}
}

// protectiveLevels derives SL/TP from an entry price and the percent config.
func (m *Manager) protectiveLevels(direction string, entry decimal.Decimal) (sl, tp decimal.Decimal) {
	slFrac := decimal.NewFromFloat(m.cfg.StopLossPct / 100)
	tpFrac := decimal.NewFromFloat(m.cfg.TakeProfitPct / 100)
	one := decimal.NewFromInt(1)

	if direction == signal.TypeLong || direction == binance.PositionLong {
		return entry.Mul(one.Sub(slFrac)), entry.Mul(one.Add(tpFrac))
	}
	return entry.Mul(one.Add(slFrac)), entry.Mul(one.Sub(tpFrac))
}

// pnlPercent is the unrealised move from entry in the position's direction,
// in percent.
func pnlPercent(direction string, entry, current decimal.Decimal) float64 {
	if !entry.IsPositive() {
		return 0
	}
	pct, _ := current.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100)).Float64()
	if direction == signal.TypeShort || direction == binance.PositionShort {
		return -pct
	}
	return pct
}

// pnlQuote is the realised PnL in quote units for a closed trade.
func pnlQuote(direction string, entry, exit, qty decimal.Decimal) decimal.Decimal {
	diff := exit.Sub(entry)
	if direction == signal.TypeShort || direction == binance.PositionShort {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}

func sideForDirection(direction string) string {
	if direction == signal.TypeShort {
		return events.SideSell
	}
	return events.SideBuy
}

func closeSideForDirection(direction string) string {
	if direction == signal.TypeShort || direction == binance.PositionShort {
		return events.SideBuy
	}
	return events.SideSell
}

// actionForReason maps a close reason onto the persisted trade action.
func actionForReason(reason string) string {
	switch {
	case strings.Contains(reason, "take_profit"):
		return events.ActionTakeProfit
	case strings.Contains(reason, "stop_loss"):
		return events.ActionStopLoss
	default:
		return events.ActionClose
	}
}
