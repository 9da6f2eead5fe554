package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const tradesFile = "trades.jsonl"

// TradeQuery filters the in-memory trade index.
type TradeQuery struct {
	Symbol    string
	Timeframe string
	Action    string
	TodayOnly bool
	Limit     int
}

// TradeStats is the rollup over a set of trade events. PnL figures come
// from closing actions only; fees count every event.
type TradeStats struct {
	Total      int     `json:"total_trades"`
	Closed     int     `json:"closed_trades"`
	Winning    int     `json:"winning_trades"`
	Losing     int     `json:"losing_trades"`
	WinRate    float64 `json:"win_rate"`
	TotalPnL   float64 `json:"total_pnl"`
	TotalFees  float64 `json:"total_fees"`
	NetPnL     float64 `json:"net_pnl"`
	AvgPnL     float64 `json:"avg_pnl"`
	BestTrade  float64 `json:"best_trade"`
	WorstTrade float64 `json:"worst_trade"`
}

// TradeRollup groups stats all-time, today and per symbol.
type TradeRollup struct {
	AllTime  TradeStats            `json:"all_time"`
	Today    TradeStats            `json:"today"`
	BySymbol map[string]TradeStats `json:"by_symbol"`
}

// TradeLogger persists TradeEvents to an append-only JSONL file. Unlike the
// signal index, the full trade history stays in memory.
type TradeLogger struct {
	mu     sync.Mutex
	path   string
	trades []TradeEvent
}

// NewTradeLogger opens (creating if needed) the trade store under dataDir
// and loads all events into memory.
func NewTradeLogger(dataDir string) (*TradeLogger, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	l := &TradeLogger{path: filepath.Join(dataDir, tradesFile)}
	n, err := l.loadFromDisk()
	if err != nil {
		return nil, err
	}
	log.Info().Int("trades", n).Str("file", l.path).Msg("📒 Trade log loaded")
	return l, nil
}

func (l *TradeLogger) loadFromDisk() (int, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open trade log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var ev TradeEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			log.Warn().Err(err).Msg("trade log: skipping invalid line")
			continue
		}
		l.trades = append(l.trades, ev)
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read trade log: %w", err)
	}
	return len(l.trades), nil
}

// Log appends the event to memory and disk. The event stays in memory even
// when the disk write fails.
func (l *TradeLogger) Log(ev TradeEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.trades = append(l.trades, ev)
	if err := appendLine(l.path, ev); err != nil {
		log.Error().Err(err).Msg("trade log: append failed, keeping in memory")
		return err
	}
	return nil
}

// Trades returns events matching the query, newest first.
func (l *TradeLogger) Trades(q TradeQuery) []TradeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	out := make([]TradeEvent, 0, len(l.trades))
	for _, ev := range l.trades {
		if q.Symbol != "" && ev.Symbol != q.Symbol {
			continue
		}
		if q.Timeframe != "" && ev.Timeframe != q.Timeframe {
			continue
		}
		if q.Action != "" && ev.Action != q.Action {
			continue
		}
		if q.TodayOnly && !sameDay(ev.TS, now) {
			continue
		}
		out = append(out, ev)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Len returns the number of indexed events.
func (l *TradeLogger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.trades)
}

// Stats rolls up trade outcomes, all-time and today and per symbol.
func (l *TradeLogger) Stats(symbol string) TradeRollup {
	l.mu.Lock()
	defer l.mu.Unlock()

	filtered := l.trades
	if symbol != "" {
		filtered = nil
		for _, ev := range l.trades {
			if ev.Symbol == symbol {
				filtered = append(filtered, ev)
			}
		}
	}

	now := time.Now()
	var today []TradeEvent
	for _, ev := range filtered {
		if sameDay(ev.TS, now) {
			today = append(today, ev)
		}
	}

	bySymbol := make(map[string]TradeStats)
	grouped := make(map[string][]TradeEvent)
	for _, ev := range filtered {
		grouped[ev.Symbol] = append(grouped[ev.Symbol], ev)
	}
	for sym, evs := range grouped {
		bySymbol[sym] = calcTradeStats(evs)
	}

	return TradeRollup{
		AllTime:  calcTradeStats(filtered),
		Today:    calcTradeStats(today),
		BySymbol: bySymbol,
	}
}

// Reset drops events for the given symbol (all events when symbol is empty)
// and rewrites the file atomically.
func (l *TradeLogger) Reset(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if symbol == "" {
		l.trades = nil
	} else {
		kept := l.trades[:0]
		for _, ev := range l.trades {
			if ev.Symbol != symbol {
				kept = append(kept, ev)
			}
		}
		l.trades = kept
	}

	lines := make([]any, len(l.trades))
	for i, ev := range l.trades {
		lines[i] = ev
	}
	if err := rewriteAtomic(l.path, lines); err != nil {
		return fmt.Errorf("reset trade log: %w", err)
	}
	log.Info().Str("symbol", symbol).Int("kept", len(l.trades)).Msg("🧹 Trade log reset")
	return nil
}
