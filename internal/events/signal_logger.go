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

const (
	signalsFile      = "signals.jsonl"
	signalLoadLimit  = 1000
	signalMemoryCap  = 5000
	signalMemoryKeep = 3000
)

// SignalQuery filters the in-memory signal index.
type SignalQuery struct {
	Symbol    string
	Timeframe string
	Decision  string
	TodayOnly bool
	Limit     int
}

// SignalStats is the rollup over a set of signal events.
type SignalStats struct {
	Total         int     `json:"total_signals"`
	Executed      int     `json:"executed"`
	Ignored       int     `json:"ignored"`
	Blocked       int     `json:"blocked"`
	Longs         int     `json:"long_signals"`
	Shorts        int     `json:"short_signals"`
	ExecutionRate float64 `json:"execution_rate"`
}

// SignalRollup groups stats all-time, today and per symbol.
type SignalRollup struct {
	AllTime  SignalStats            `json:"all_time"`
	Today    SignalStats            `json:"today"`
	BySymbol map[string]SignalStats `json:"by_symbol"`
}

// SignalLogger persists SignalEvents to an append-only JSONL file and serves
// queries from an in-memory index. One instance is shared by every runner;
// all operations are serialised by a mutex.
type SignalLogger struct {
	mu           sync.Mutex
	path         string
	signals      []SignalEvent
	lastBySymbol map[string]SignalEvent
}

// NewSignalLogger opens (creating if needed) the signal store under dataDir
// and loads the most recent events into memory.
func NewSignalLogger(dataDir string) (*SignalLogger, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	l := &SignalLogger{
		path:         filepath.Join(dataDir, signalsFile),
		lastBySymbol: make(map[string]SignalEvent),
	}
	n, err := l.loadFromDisk()
	if err != nil {
		return nil, err
	}
	log.Info().Int("signals", n).Str("file", l.path).Msg("📋 Signal log loaded")
	return l, nil
}

func (l *SignalLogger) loadFromDisk() (int, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open signal log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("read signal log: %w", err)
	}

	if len(lines) > signalLoadLimit {
		lines = lines[len(lines)-signalLoadLimit:]
	}
	for _, line := range lines {
		var ev SignalEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			log.Warn().Err(err).Msg("signal log: skipping invalid line")
			continue
		}
		l.signals = append(l.signals, ev)
		l.lastBySymbol[ev.Symbol] = ev
	}
	return len(l.signals), nil
}

// Log appends the event to memory and disk. The event stays in memory even
// when the disk write fails, so queries keep serving it.
func (l *SignalLogger) Log(ev SignalEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.signals = append(l.signals, ev)
	l.lastBySymbol[ev.Symbol] = ev
	if len(l.signals) > signalMemoryCap {
		l.signals = l.signals[len(l.signals)-signalMemoryKeep:]
	}

	if err := appendLine(l.path, ev); err != nil {
		log.Error().Err(err).Msg("signal log: append failed, keeping in memory")
		return err
	}
	return nil
}

// Signals returns events matching the query, newest first.
func (l *SignalLogger) Signals(q SignalQuery) []SignalEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	out := make([]SignalEvent, 0, len(l.signals))
	for _, ev := range l.signals {
		if q.Symbol != "" && ev.Symbol != q.Symbol {
			continue
		}
		if q.Timeframe != "" && ev.Timeframe != q.Timeframe {
			continue
		}
		if q.Decision != "" && ev.Decision != q.Decision {
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

// Last returns the most recent event, for one symbol or overall.
func (l *SignalLogger) Last(symbol string) (SignalEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if symbol != "" {
		ev, ok := l.lastBySymbol[symbol]
		return ev, ok
	}
	if len(l.signals) == 0 {
		return SignalEvent{}, false
	}
	return l.signals[len(l.signals)-1], true
}

// Len returns the number of indexed events.
func (l *SignalLogger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.signals)
}

// Stats rolls up decision counts, all-time and today and per symbol.
func (l *SignalLogger) Stats(symbol string) SignalRollup {
	l.mu.Lock()
	defer l.mu.Unlock()

	filtered := l.signals
	if symbol != "" {
		filtered = nil
		for _, ev := range l.signals {
			if ev.Symbol == symbol {
				filtered = append(filtered, ev)
			}
		}
	}

	now := time.Now()
	var today []SignalEvent
	for _, ev := range filtered {
		if sameDay(ev.TS, now) {
			today = append(today, ev)
		}
	}

	bySymbol := make(map[string]SignalStats)
	grouped := make(map[string][]SignalEvent)
	for _, ev := range filtered {
		grouped[ev.Symbol] = append(grouped[ev.Symbol], ev)
	}
	for sym, evs := range grouped {
		bySymbol[sym] = calcSignalStats(evs)
	}

	return SignalRollup{
		AllTime:  calcSignalStats(filtered),
		Today:    calcSignalStats(today),
		BySymbol: bySymbol,
	}
}

// Reset drops events for the given symbol (all events when symbol is empty)
// and rewrites the file atomically.
func (l *SignalLogger) Reset(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if symbol == "" {
		l.signals = nil
		l.lastBySymbol = make(map[string]SignalEvent)
	} else {
		kept := l.signals[:0]
		for _, ev := range l.signals {
			if ev.Symbol != symbol {
				kept = append(kept, ev)
			}
		}
		l.signals = kept
		delete(l.lastBySymbol, symbol)
	}

	lines := make([]any, len(l.signals))
	for i, ev := range l.signals {
		lines[i] = ev
	}
	if err := rewriteAtomic(l.path, lines); err != nil {
		return fmt.Errorf("reset signal log: %w", err)
	}
	log.Info().Str("symbol", symbol).Int("kept", len(l.signals)).Msg("🧹 Signal log reset")
	return nil
}
