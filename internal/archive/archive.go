// Package archive mirrors trade and signal events into a relational store
// for long-term analysis. The JSONL event logs remain the source of truth;
// the archive is best-effort.
package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantevo/vortexbot/internal/events"
)

// TradeRecord is one archived trade event.
type TradeRecord struct {
	ID         string `gorm:"primaryKey"`
	TS         time.Time
	Symbol     string `gorm:"index"`
	Timeframe  string
	Side       string
	Action     string `gorm:"index"`
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Fees       float64
	Reason     string
	SignalID   string
	Meta       string
	CreatedAt  time.Time
}

// SignalRecord is one archived signal decision.
type SignalRecord struct {
	ID            string `gorm:"primaryKey"`
	TS            time.Time
	Symbol        string `gorm:"index"`
	Timeframe     string
	SignalType    string
	Strength      float64
	Delta         float64
	IFI           float64
	Vortex        float64
	Regime        string
	Decision      string `gorm:"index"`
	Reason        string
	LinkedTradeID string
	CreatedAt     time.Time
}

// Archive wraps the relational store.
type Archive struct {
	db *gorm.DB
}

// New opens the archive. A postgres:// DSN uses PostgreSQL; anything else is
// treated as a SQLite file path.
func New(dsn string) (*Archive, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Archive connected (PostgreSQL)")
	} else {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("Archive initialized (SQLite)")
	}

	if err := db.AutoMigrate(&TradeRecord{}, &SignalRecord{}); err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

// SaveTrade upserts one trade event.
func (a *Archive) SaveTrade(ev events.TradeEvent) error {
	meta := ""
	if len(ev.Meta) > 0 {
		if raw, err := json.Marshal(ev.Meta); err == nil {
			meta = string(raw)
		}
	}
	rec := TradeRecord{
		ID:         ev.ID,
		TS:         ev.TS,
		Symbol:     ev.Symbol,
		Timeframe:  ev.Timeframe,
		Side:       ev.Side,
		Action:     ev.Action,
		Qty:        ev.Qty,
		EntryPrice: ev.EntryPrice,
		ExitPrice:  ev.ExitPrice,
		PnL:        ev.PnL,
		Fees:       ev.Fees,
		Reason:     ev.Reason,
		SignalID:   ev.SignalID,
		Meta:       meta,
	}
	return a.db.Save(&rec).Error
}

// SaveSignal upserts one signal event.
func (a *Archive) SaveSignal(ev events.SignalEvent) error {
	rec := SignalRecord{
		ID:            ev.ID,
		TS:            ev.TS,
		Symbol:        ev.Symbol,
		Timeframe:     ev.Timeframe,
		SignalType:    ev.SignalType,
		Strength:      ev.Strength,
		Delta:         ev.Delta,
		IFI:           ev.IFI,
		Vortex:        ev.Vortex,
		Regime:        ev.Regime,
		Decision:      ev.Decision,
		Reason:        ev.Reason,
		LinkedTradeID: ev.LinkedTradeID,
	}
	return a.db.Save(&rec).Error
}

// RecentTrades returns the newest archived trades for a symbol, or for all
// symbols when symbol is empty.
func (a *Archive) RecentTrades(symbol string, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := a.db.Order("ts desc").Limit(limit)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var out []TradeRecord
	err := q.Find(&out).Error
	return out, err
}

// Stats is the archive-side trade rollup.
type Stats struct {
	Trades   int64
	Closed   int64
	Wins     int64
	TotalPnL float64
}

// Stats aggregates archived trades for a symbol, or for all symbols when
// symbol is empty.
func (a *Archive) Stats(symbol string) (Stats, error) {
	var st Stats
	closing := []string{events.ActionClose, events.ActionStopLoss, events.ActionTakeProfit}

	scoped := func() *gorm.DB {
		q := a.db.Model(&TradeRecord{})
		if symbol != "" {
			q = q.Where("symbol = ?", symbol)
		}
		return q
	}

	if err := scoped().Count(&st.Trades).Error; err != nil {
		return st, err
	}
	if err := scoped().Where("action IN ?", closing).Count(&st.Closed).Error; err != nil {
		return st, err
	}
	if err := scoped().Where("action IN ? AND pn_l > 0", closing).Count(&st.Wins).Error; err != nil {
		return st, err
	}

	var err error
	st.TotalPnL, err = a.ClosedPnL(symbol)
	return st, err
}

// ClosedPnL sums archived realised PnL for a symbol.
func (a *Archive) ClosedPnL(symbol string) (float64, error) {
	var total float64
	q := a.db.Model(&TradeRecord{}).
		Where("action IN ?", []string{events.ActionClose, events.ActionStopLoss, events.ActionTakeProfit})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	err := q.Select("COALESCE(SUM(pn_l), 0)").Scan(&total).Error
	return total, err
}
