package market

import (
	"fmt"
	"time"
)

// Bar is one closed (or in-progress) OHLCV bucket for a (symbol, interval)
// stream. BuyVolume is the taker-buy portion of Volume; SellVolume is the
// remainder and Delta = BuyVolume - SellVolume.
type Bar struct {
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	BuyVolume  float64   `json:"buy_volume"`
	SellVolume float64   `json:"sell_volume"`
	Delta      float64   `json:"delta"`
	Closed     bool      `json:"closed"`
}

// Valid reports whether the bar satisfies the OHLC ordering and volume
// constraints. Malformed bars are skipped by the feed, not propagated.
func (b Bar) Valid() bool {
	if b.Volume < 0 {
		return false
	}
	hi := b.Open
	if b.Close > hi {
		hi = b.Close
	}
	lo := b.Open
	if b.Close < lo {
		lo = b.Close
	}
	return b.High >= hi && lo >= b.Low
}

// Range returns high-low, the bar's raw true range without gaps.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// ValidInterval reports whether s is a kline interval the exchange streams.
func ValidInterval(s string) bool {
	switch s {
	case "1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w", "1M":
		return true
	}
	return false
}

// IntervalDuration converts an exchange interval string to a time.Duration.
func IntervalDuration(s string) (time.Duration, error) {
	switch s {
	case "1m":
		return time.Minute, nil
	case "3m":
		return 3 * time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "2h":
		return 2 * time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "6h":
		return 6 * time.Hour, nil
	case "8h":
		return 8 * time.Hour, nil
	case "12h":
		return 12 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	case "3d":
		return 72 * time.Hour, nil
	case "1w":
		return 7 * 24 * time.Hour, nil
	case "1M":
		return 30 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported interval %q", s)
}
