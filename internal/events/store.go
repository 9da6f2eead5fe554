package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quantevo/vortexbot/internal/signal"
)

// appendLine marshals v and appends it as one LF-terminated line. The file
// is opened per call so a concurrent atomic rewrite never leaves a stale
// handle writing to an unlinked inode.
func appendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// rewriteAtomic replaces path with the given records: write to a temp file
// in the same directory, fsync, then rename over the original.
func rewriteAtomic(path string, records []any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	write := func() error {
		for _, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
			if _, err := tmp.Write(append(data, '\n')); err != nil {
				return fmt.Errorf("write temp: %w", err)
			}
		}
		if err := tmp.Sync(); err != nil {
			return fmt.Errorf("sync temp: %w", err)
		}
		return nil
	}

	if err := write(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}

func calcSignalStats(evs []SignalEvent) SignalStats {
	var s SignalStats
	s.Total = len(evs)
	for _, ev := range evs {
		switch ev.Decision {
		case DecisionExecuted:
			s.Executed++
		case DecisionIgnored:
			s.Ignored++
		case DecisionBlocked:
			s.Blocked++
		}
		switch ev.SignalType {
		case signal.TypeLong:
			s.Longs++
		case signal.TypeShort:
			s.Shorts++
		}
	}
	if s.Total > 0 {
		s.ExecutionRate = float64(s.Executed) / float64(s.Total) * 100
	}
	return s
}

func calcTradeStats(evs []TradeEvent) TradeStats {
	var s TradeStats
	s.Total = len(evs)

	first := true
	for _, ev := range evs {
		s.TotalFees += ev.Fees
		if !IsClosing(ev.Action) {
			continue
		}
		s.Closed++
		s.TotalPnL += ev.PnL
		if ev.PnL > 0 {
			s.Winning++
		} else if ev.PnL < 0 {
			s.Losing++
		}
		if first || ev.PnL > s.BestTrade {
			s.BestTrade = ev.PnL
		}
		if first || ev.PnL < s.WorstTrade {
			s.WorstTrade = ev.PnL
		}
		first = false
	}

	if s.Closed > 0 {
		s.WinRate = float64(s.Winning) / float64(s.Closed) * 100
		s.AvgPnL = s.TotalPnL / float64(s.Closed)
	}
	s.NetPnL = s.TotalPnL - s.TotalFees
	return s
}
