package topology

import (
	"math"
	"sort"
	"time"

	"github.com/quantevo/vortexbot/internal/market"
)

// Vortex directions.
const (
	Clockwise        = "clockwise"
	Counterclockwise = "counterclockwise"
)

// compositeThreshold is the minimum |rotation| * normalized-energy score for
// a vortex. 0.08 holds up across liquid futures pairs.
const compositeThreshold = 0.08

// VortexMarker is one detected vortex: an interior bar whose rotation and
// energy jointly exceed the detection thresholds.
type VortexMarker struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Strength  float64   `json:"strength"`
	Direction string    `json:"direction"`
}

// Snapshot is the topology read of one bar window.
type Snapshot struct {
	Symbol    string         `json:"symbol"`
	Timestamp time.Time      `json:"timestamp"`
	Coherence float64        `json:"coherence"`
	Energy    float64        `json:"energy"`
	Vortexes  []VortexMarker `json:"vortexes"`
}

// Engine computes rotation, energy and vortex features over a window of
// bars. Each bar maps to a (return, flow) vector; rotation at an interior
// bar is the normalized cross product of its neighbours, a signed sine of
// the turn angle.
type Engine struct {
	windowSize int
}

// NewEngine creates a topology engine. windowSize bounds the bars considered
// per compute call.
func NewEngine(windowSize int) *Engine {
	if windowSize < 3 {
		windowSize = 3
	}
	return &Engine{windowSize: windowSize}
}

// Compute builds a Snapshot from the given bars. Fewer than 3 bars yields a
// zero snapshot with no vortexes.
func (e *Engine) Compute(symbol string, bars []market.Bar) Snapshot {
	if len(bars) > e.windowSize {
		bars = bars[len(bars)-e.windowSize:]
	}

	snap := Snapshot{Symbol: symbol}
	if len(bars) > 0 {
		snap.Timestamp = bars[len(bars)-1].Timestamp
	}
	if len(bars) < 3 {
		return snap
	}

	returns := make([]float64, len(bars))
	flows := make([]float64, len(bars))
	for i := range bars {
		if i > 0 {
			prev := bars[i-1].Close
			if prev != 0 {
				returns[i] = (bars[i].Close - prev) / math.Abs(prev)
			}
		}
		if bars[i].Volume > 0 {
			flows[i] = bars[i].Delta / bars[i].Volume
		}
	}

	n := len(bars) - 2
	rotations := make([]float64, 0, n)
	energies := make([]float64, 0, n)
	composites := make([]float64, 0, n)
	sortedEnergies := make([]float64, 0, n)

	for k := 1; k <= len(bars)-2; k++ {
		px, py := returns[k-1], flows[k-1]
		nx, ny := returns[k+1], flows[k+1]

		cross := px*ny - py*nx
		denom := math.Hypot(px, py) * math.Hypot(nx, ny)
		rot := 0.0
		if denom >= 1e-9 {
			rot = cross / denom
		}
		rotations = append(rotations, rot)

		energy := math.Abs(returns[k]) * bars[k].Volume
		energies = append(energies, energy)

		// Median over the energies seen so far (upper median), so early
		// composites are scored against the running distribution.
		sortedEnergies = insertSorted(sortedEnergies, energy)
		medianEnergy := sortedEnergies[len(sortedEnergies)/2]

		normEnergy := 0.0
		if medianEnergy > 0 {
			normEnergy = math.Sqrt(energy / medianEnergy)
		}
		composites = append(composites, math.Abs(rot)*normEnergy)
	}

	sumRot := 0.0
	for _, r := range rotations {
		sumRot += math.Abs(r)
	}
	snap.Coherence = sumRot / float64(len(rotations))
	snap.Energy = energies[len(energies)-1]

	threshold := energyThreshold(energies)
	for i, k := 0, 1; k <= len(bars)-2; i, k = i+1, k+1 {
		if composites[i] < compositeThreshold || energies[i] < threshold {
			continue
		}
		dir := Counterclockwise
		if rotations[i] < 0 {
			dir = Clockwise
		}
		snap.Vortexes = append(snap.Vortexes, VortexMarker{
			Index:     k,
			Timestamp: bars[k].Timestamp,
			Price:     bars[k].Close,
			Strength:  math.Abs(rotations[i]),
			Direction: dir,
		})
	}

	return snap
}

// energyThreshold returns the 70th-percentile energy, the floor for vortex
// detection.
func energyThreshold(energies []float64) float64 {
	sorted := make([]float64, len(energies))
	copy(sorted, energies)
	sort.Float64s(sorted)

	idx := int(0.7 * float64(len(sorted)))
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func insertSorted(s []float64, v float64) []float64 {
	i := sort.SearchFloat64s(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
