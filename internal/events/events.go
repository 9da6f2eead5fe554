package events

import (
	"time"

	"github.com/google/uuid"
)

// Signal decisions.
const (
	DecisionExecuted = "EXECUTED"
	DecisionIgnored  = "IGNORED"
	DecisionBlocked  = "BLOCKED"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade actions.
const (
	ActionOpen       = "OPEN"
	ActionClose      = "CLOSE"
	ActionStopLoss   = "STOP_LOSS"
	ActionTakeProfit = "TAKE_PROFIT"
)

// SignalEvent is one persisted signal decision. Vortex carries the breakout
// probability that drove the signal; Regime is the delta trend at emit time.
type SignalEvent struct {
	ID            string         `json:"id"`
	TS            time.Time      `json:"ts"`
	Symbol        string         `json:"symbol"`
	Timeframe     string         `json:"timeframe"`
	SignalType    string         `json:"signal_type"`
	Strength      float64        `json:"strength"`
	Delta         float64        `json:"delta"`
	IFI           float64        `json:"ifi"`
	Vortex        float64        `json:"vortex"`
	Regime        string         `json:"regime"`
	Decision      string         `json:"decision"`
	Reason        string         `json:"reason"`
	LinkedTradeID string         `json:"linked_trade_id,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// TradeEvent is one persisted order action.
type TradeEvent struct {
	ID         string         `json:"id"`
	TS         time.Time      `json:"ts"`
	Symbol     string         `json:"symbol"`
	Timeframe  string         `json:"timeframe"`
	Side       string         `json:"side"`
	Action     string         `json:"action"`
	Qty        float64        `json:"qty"`
	EntryPrice float64        `json:"entry_price"`
	ExitPrice  float64        `json:"exit_price,omitempty"`
	PnL        float64        `json:"pnl"`
	Fees       float64        `json:"fees"`
	Reason     string         `json:"reason"`
	SignalID   string         `json:"signal_id,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// NewID mints a unique event id.
func NewID() string {
	return uuid.NewString()
}

// IsClosing reports whether the action realises PnL.
func IsClosing(action string) bool {
	switch action {
	case ActionClose, ActionStopLoss, ActionTakeProfit:
		return true
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
