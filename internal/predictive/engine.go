package predictive

import (
	"math"
	"math/rand"
	"time"

	"github.com/quantevo/vortexbot/internal/market"
)

// Config holds the Monte-Carlo parameters.
type Config struct {
	WindowSize      int
	HorizonBars     int
	NumScenarios    int
	BreakoutATRMult float64
	CollapseATRMult float64
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		WindowSize:      200,
		HorizonBars:     20,
		NumScenarios:    20,
		BreakoutATRMult: 1.0,
		CollapseATRMult: 0.5,
	}
}

// Snapshot is the forward-looking read of one bar window: breakout and
// collapse probabilities from simulated paths, a mean±std projection cone,
// and the IFI intensity score.
type Snapshot struct {
	Symbol       string    `json:"symbol"`
	Timestamp    time.Time `json:"timestamp"`
	HorizonBars  int       `json:"horizon_bars"`
	NumScenarios int       `json:"num_scenarios"`
	IFI          float64   `json:"ifi"`
	BreakoutUp   float64   `json:"breakout_probability_up"`
	BreakoutDown float64   `json:"breakout_probability_down"`
	CollapseRisk float64   `json:"collapse_risk"`
	ConeUpper    []float64 `json:"cone_upper"`
	ConeLower    []float64 `json:"cone_lower"`
}

// Engine simulates NumScenarios forward paths of HorizonBars steps with
// multiplicative gaussian shocks scaled by the window's return volatility.
// Not safe for concurrent use; each stream runner owns its own engine.
type Engine struct {
	cfg Config
	rng *rand.Rand
}

// NewEngine creates an engine seeded from the clock.
func NewEngine(cfg Config) *Engine {
	return NewSeededEngine(cfg, time.Now().UnixNano())
}

// NewSeededEngine creates an engine with a fixed seed for reproducible runs.
func NewSeededEngine(cfg Config, seed int64) *Engine {
	if cfg.HorizonBars < 1 {
		cfg.HorizonBars = 1
	}
	if cfg.NumScenarios < 1 {
		cfg.NumScenarios = 1
	}
	return &Engine{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Compute builds a Snapshot from the given bars. Fewer than 2 bars yields a
// zero snapshot with the cone pinned to the last close.
func (e *Engine) Compute(symbol string, bars []market.Bar) Snapshot {
	if len(bars) > e.cfg.WindowSize {
		bars = bars[len(bars)-e.cfg.WindowSize:]
	}

	snap := Snapshot{
		Symbol:       symbol,
		HorizonBars:  e.cfg.HorizonBars,
		NumScenarios: e.cfg.NumScenarios,
	}
	if len(bars) > 0 {
		snap.Timestamp = bars[len(bars)-1].Timestamp
	}
	if len(bars) < 2 {
		last := 0.0
		if len(bars) == 1 {
			last = bars[0].Close
		}
		snap.ConeUpper = flatCone(last, e.cfg.HorizonBars)
		snap.ConeLower = flatCone(last, e.cfg.HorizonBars)
		return snap
	}

	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		if prev == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (bars[i].Close-prev)/math.Abs(prev))
	}
	sigma := sampleStdev(returns)

	nATR := len(bars)
	if nATR > 20 {
		nATR = 20
	}
	recent := bars[len(bars)-nATR:]

	atr := 0.0
	recentHigh := recent[0].High
	recentLow := recent[0].Low
	for _, b := range recent {
		atr += b.High - b.Low
		if b.High > recentHigh {
			recentHigh = b.High
		}
		if b.Low < recentLow {
			recentLow = b.Low
		}
	}
	atr /= float64(len(recent))
	if atr == 0 {
		atr = 1e-6
	}

	upLevel := recentHigh + e.cfg.BreakoutATRMult*atr
	downLevel := recentLow - e.cfg.BreakoutATRMult*atr
	lastPrice := bars[len(bars)-1].Close

	paths := make([][]float64, e.cfg.NumScenarios)
	for s := range paths {
		price := lastPrice
		path := make([]float64, e.cfg.HorizonBars)
		for h := range path {
			price *= 1 + sigma*e.rng.NormFloat64()
			path[h] = price
		}
		paths[s] = path
	}

	snap.ConeUpper = make([]float64, e.cfg.HorizonBars)
	snap.ConeLower = make([]float64, e.cfg.HorizonBars)
	stepValues := make([]float64, e.cfg.NumScenarios)
	avgStd := 0.0
	for h := 0; h < e.cfg.HorizonBars; h++ {
		for s, path := range paths {
			stepValues[s] = path[h]
		}
		mean := meanOf(stepValues)
		std := sampleStdev(stepValues)
		avgStd += std
		snap.ConeUpper[h] = mean + std
		snap.ConeLower[h] = mean - std
	}
	avgStd /= float64(e.cfg.HorizonBars)

	countUp, countDown := 0, 0
	collapseBand := e.cfg.CollapseATRMult * atr
	countCollapse := 0
	for _, path := range paths {
		up, down := false, false
		for _, p := range path {
			if p >= upLevel {
				up = true
			}
			if p <= downLevel {
				down = true
			}
		}
		if up {
			countUp++
		}
		if down {
			countDown++
		}
		if math.Abs(path[len(path)-1]-lastPrice) <= collapseBand {
			countCollapse++
		}
	}
	total := float64(e.cfg.NumScenarios)
	snap.BreakoutUp = float64(countUp) / total
	snap.BreakoutDown = float64(countDown) / total
	snap.CollapseRisk = float64(countCollapse) / total

	volRatio := avgStd / (math.Abs(lastPrice) + 1e-9)
	snap.IFI = clamp(volRatio*10000, 0, 100)

	return snap
}

func flatCone(price float64, n int) []float64 {
	cone := make([]float64, n)
	for i := range cone {
		cone[i] = price
	}
	return cone
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdev is the n-1 standard deviation; 0 for fewer than 2 values.
func sampleStdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := meanOf(values)
	varSum := 0.0
	for _, v := range values {
		d := v - mean
		varSum += d * d
	}
	return math.Sqrt(varSum / float64(len(values)-1))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
