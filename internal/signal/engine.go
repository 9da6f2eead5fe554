package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/quantevo/vortexbot/internal/market"
	"github.com/quantevo/vortexbot/internal/predictive"
)

// Signal types.
const (
	TypeLong    = "LONG"
	TypeShort   = "SHORT"
	TypeNeutral = "NEUTRAL"
)

// Delta-trend regimes.
const (
	RegimeBullish = "BULLISH"
	RegimeBearish = "BEARISH"
	RegimeNeutral = "NEUTRAL"
)

// Config holds the fusion thresholds. Shorts require a stronger breakout
// probability than longs.
type Config struct {
	BreakoutThresholdLong  float64
	BreakoutThresholdShort float64
	DeltaLookback          int
	DeltaThreshold         float64
	MinDeltaStrength       float64
	BlockContraTrend       bool
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		BreakoutThresholdLong:  0.60,
		BreakoutThresholdShort: 0.65,
		DeltaLookback:          10,
		DeltaThreshold:         0.6,
		MinDeltaStrength:       0.30,
		BlockContraTrend:       true,
	}
}

// Signal is one fused directional read: LONG, SHORT or NEUTRAL with a
// confidence in [0,1].
type Signal struct {
	Symbol       string    `json:"symbol"`
	Timestamp    time.Time `json:"timestamp"`
	Type         string    `json:"type"`
	Confidence   float64   `json:"confidence"`
	BreakoutProb float64   `json:"breakout_probability"`
	IFI          float64   `json:"ifi"`
	CollapseRisk float64   `json:"collapse_risk"`
	Regime       string    `json:"regime"`
	Delta        float64   `json:"delta"`
	Description  string    `json:"description"`
}

// State carries the per-stream mutable inputs of the fusion: the previous
// IFI reading and the recent-bar ring used for the delta trend. One State
// per (symbol, timeframe), owned by its runner.
type State struct {
	lastIFI float64
	hasIFI  bool
	bars    []market.Bar
}

// NewState returns an empty per-stream state.
func NewState() *State {
	return &State{}
}

func (s *State) updateBars(bars []market.Bar, lookback int) {
	if len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	s.bars = s.bars[:0]
	s.bars = append(s.bars, bars...)
}

// Engine fuses the predictive snapshot with the cumulative-delta trend into
// a single directional signal. Longs need a rising IFI and bp_up past the
// long threshold; shorts are symmetric on bp_down with a higher bar. A
// strong opposite delta trend blocks the side outright.
type Engine struct {
	cfg Config
}

// NewEngine creates a signal engine with the given thresholds.
func NewEngine(cfg Config) *Engine {
	if cfg.DeltaLookback < 1 {
		cfg.DeltaLookback = 1
	}
	return &Engine{cfg: cfg}
}

// Compute updates the state with the latest bars and returns the emitted
// signals. Exactly one signal comes back: LONG wins when both sides qualify,
// and NEUTRAL covers everything else.
func (e *Engine) Compute(st *State, pred predictive.Snapshot, bars []market.Bar) []Signal {
	st.updateBars(bars, e.cfg.DeltaLookback)

	ifiRising := st.hasIFI && pred.IFI > st.lastIFI
	st.lastIFI = pred.IFI
	st.hasIFI = true

	trend, strength := e.deltaTrend(st.bars)

	lastDelta := 0.0
	if len(st.bars) > 0 {
		lastDelta = st.bars[len(st.bars)-1].Delta
	}

	base := Signal{
		Symbol:       pred.Symbol,
		Timestamp:    pred.Timestamp,
		IFI:          pred.IFI,
		CollapseRisk: pred.CollapseRisk,
		Regime:       trend,
		Delta:        lastDelta,
	}

	longBlocked := e.cfg.BlockContraTrend && trend == RegimeBearish && strength >= 0.5
	shortBlocked := e.cfg.BlockContraTrend && trend == RegimeBullish && strength >= 0.5

	deltaOK := trend == RegimeNeutral || strength >= e.cfg.MinDeltaStrength
	longOK := !longBlocked && pred.BreakoutUp >= e.cfg.BreakoutThresholdLong && ifiRising && deltaOK
	shortOK := !shortBlocked && pred.BreakoutDown >= e.cfg.BreakoutThresholdShort && ifiRising && deltaOK

	switch {
	case longOK:
		sig := base
		sig.Type = TypeLong
		sig.BreakoutProb = pred.BreakoutUp
		conf := 0.5 + (pred.BreakoutUp - e.cfg.BreakoutThresholdLong)
		switch trend {
		case RegimeBullish:
			sig.Confidence = math.Min(1, conf+strength*0.25)
			sig.Description = fmt.Sprintf("LONG: bp_up=%.0f%%, IFI rising, delta BULLISH (%.0f%%)", pred.BreakoutUp*100, strength*100)
		case RegimeBearish:
			sig.Confidence = math.Max(0, conf-strength*0.5)
			sig.Description = fmt.Sprintf("LONG WEAK: bp_up=%.0f%%, but delta BEARISH (%.0f%%)", pred.BreakoutUp*100, strength*100)
		default:
			sig.Confidence = conf
			sig.Description = fmt.Sprintf("LONG: bp_up=%.0f%%, IFI rising, delta neutral", pred.BreakoutUp*100)
		}
		return []Signal{sig}

	case shortOK:
		sig := base
		sig.Type = TypeShort
		sig.BreakoutProb = pred.BreakoutDown
		conf := 0.5 + (pred.BreakoutDown - e.cfg.BreakoutThresholdShort)
		switch trend {
		case RegimeBearish:
			sig.Confidence = math.Min(1, conf+strength*0.25)
			sig.Description = fmt.Sprintf("SHORT: bp_down=%.0f%%, IFI rising, delta BEARISH (%.0f%%)", pred.BreakoutDown*100, strength*100)
		case RegimeBullish:
			sig.Confidence = math.Max(0, conf-strength*0.5)
			sig.Description = fmt.Sprintf("SHORT WEAK: bp_down=%.0f%%, but delta BULLISH (%.0f%%)", pred.BreakoutDown*100, strength*100)
		default:
			sig.Confidence = conf
			sig.Description = fmt.Sprintf("SHORT: bp_down=%.0f%%, IFI rising, delta neutral", pred.BreakoutDown*100)
		}
		return []Signal{sig}

	default:
		sig := base
		sig.Type = TypeNeutral
		maxBP := math.Max(pred.BreakoutUp, pred.BreakoutDown)
		sig.BreakoutProb = maxBP
		sig.Confidence = math.Max(0, math.Min(1, 1-maxBP))
		sig.Description = fmt.Sprintf("Neutral. Delta trend: %s (%.0f%%)", trend, strength*100)
		return []Signal{sig}
	}
}

// deltaTrend classifies the cumulative order imbalance over the ring. A
// trend needs at least 3 bars and a 10% volume bias in one direction.
func (e *Engine) deltaTrend(bars []market.Bar) (string, float64) {
	if len(bars) < 3 {
		return RegimeNeutral, 0
	}

	cumDelta := 0.0
	totalVolume := 0.0
	for _, b := range bars {
		cumDelta += b.Delta
		totalVolume += b.Volume
	}
	if totalVolume == 0 {
		return RegimeNeutral, 0
	}

	ratio := math.Abs(cumDelta) / totalVolume
	strength := math.Min(1, ratio/e.cfg.DeltaThreshold)

	switch {
	case cumDelta > 0 && ratio > 0.1:
		return RegimeBullish, strength
	case cumDelta < 0 && ratio > 0.1:
		return RegimeBearish, strength
	default:
		return RegimeNeutral, strength
	}
}
