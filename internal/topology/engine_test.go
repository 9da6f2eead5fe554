package topology

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantevo/vortexbot/internal/market"
)

func bar(ts int64, close, volume, delta float64) market.Bar {
	return market.Bar{
		Timestamp: time.Unix(ts, 0),
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    volume,
		Delta:     delta,
		Closed:    true,
	}
}

func barsFromSeries(closes, volumes, deltas []float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	for i := range closes {
		bars[i] = bar(int64(i*60), closes[i], volumes[i], deltas[i])
	}
	return bars
}

func TestComputeTooFewBars(t *testing.T) {
	e := NewEngine(100)

	snap := e.Compute("BTCUSDT", nil)
	assert.Equal(t, "BTCUSDT", snap.Symbol)
	assert.Zero(t, snap.Coherence)
	assert.Zero(t, snap.Energy)
	assert.Empty(t, snap.Vortexes)

	two := barsFromSeries([]float64{100, 101}, []float64{10, 10}, []float64{0, 0})
	snap = e.Compute("BTCUSDT", two)
	assert.Equal(t, two[1].Timestamp, snap.Timestamp)
	assert.Zero(t, snap.Coherence)
	assert.Empty(t, snap.Vortexes)
}

func TestComputeSingleVortex(t *testing.T) {
	// v1=(0.02,0) and v3=(0,0.5) are perpendicular, so the rotation at bar 2
	// is exactly +1 and bar 2 carries the dominant energy.
	closes := []float64{100, 102, 104.04, 104.04, 104.04}
	volumes := []float64{100, 100, 1000, 100, 100}
	deltas := []float64{0, 0, 0, 50, 0}

	e := NewEngine(100)
	snap := e.Compute("BTCUSDT", barsFromSeries(closes, volumes, deltas))

	assert.InDelta(t, 1.0/3.0, snap.Coherence, 1e-9)
	assert.InDelta(t, 0.0, snap.Energy, 1e-9)

	require.Len(t, snap.Vortexes, 1)
	v := snap.Vortexes[0]
	assert.Equal(t, 2, v.Index)
	assert.InDelta(t, 104.04, v.Price, 1e-9)
	assert.InDelta(t, 1.0, v.Strength, 1e-9)
	assert.Equal(t, Counterclockwise, v.Direction)
}

func TestComputeClockwiseDirection(t *testing.T) {
	closes := []float64{100, 102, 104.04, 104.04, 104.04}
	volumes := []float64{100, 100, 1000, 100, 100}
	deltas := []float64{0, 0, 0, -50, 0}

	e := NewEngine(100)
	snap := e.Compute("BTCUSDT", barsFromSeries(closes, volumes, deltas))

	require.Len(t, snap.Vortexes, 1)
	assert.Equal(t, Clockwise, snap.Vortexes[0].Direction)
	assert.InDelta(t, 1.0, snap.Vortexes[0].Strength, 1e-9)
}

// The running-median normalization scores early bars against the energies
// seen up to that point. Bar 3 here passes only under that scheme: against
// the full-window median its composite would be 0.05, below the detection
// threshold.
func TestComputeRunningMedianNormalization(t *testing.T) {
	c0 := 1000.0
	c1 := c0 * 1.01
	c2 := c1 * 1.01
	c3 := c2 * 1.01
	c4 := c3 * 1.0099875
	c5 := c4 * 1.01
	c6 := c5 * 0.99

	closes := []float64{c0, c1, c2, c3, c4, c5, c6}
	volumes := []float64{1000, 1000, 1000, 120000, 1000 / 0.0099875, 100000, 1000}
	deltas := []float64{0, 0, 0, 0, 0.0005 * (1000 / 0.0099875), 0, 0}

	e := NewEngine(100)
	snap := e.Compute("ETHUSDT", barsFromSeries(closes, volumes, deltas))

	require.Len(t, snap.Vortexes, 1)
	v := snap.Vortexes[0]
	assert.Equal(t, 3, v.Index)
	assert.InDelta(t, 0.05, v.Strength, 1e-6)
	assert.Equal(t, Counterclockwise, v.Direction)

	assert.InDelta(t, 0.02, snap.Coherence, 1e-6)
	assert.InDelta(t, 1000.0, snap.Energy, 1e-6)
}

func TestComputeInvariants(t *testing.T) {
	closes := make([]float64, 60)
	volumes := make([]float64, 60)
	deltas := make([]float64, 60)
	price := 50000.0
	for i := range closes {
		price *= 1 + 0.004*math.Sin(float64(i)*1.3)
		closes[i] = price
		volumes[i] = 500 + 400*math.Cos(float64(i)*0.7)
		deltas[i] = volumes[i] * 0.4 * math.Sin(float64(i)*2.1)
	}

	e := NewEngine(100)
	snap := e.Compute("BTCUSDT", barsFromSeries(closes, volumes, deltas))

	assert.GreaterOrEqual(t, snap.Coherence, 0.0)
	assert.GreaterOrEqual(t, snap.Energy, 0.0)
	for _, v := range snap.Vortexes {
		assert.LessOrEqual(t, v.Strength, 1.0+1e-9)
		assert.GreaterOrEqual(t, v.Strength, 0.0)
		assert.Contains(t, []string{Clockwise, Counterclockwise}, v.Direction)
		assert.Greater(t, v.Index, 0)
		assert.Less(t, v.Index, len(closes)-1)
	}
}

func TestComputeZeroVolumeWindow(t *testing.T) {
	closes := []float64{100, 101, 102, 101, 100}
	volumes := []float64{0, 0, 0, 0, 0}
	deltas := []float64{0, 0, 0, 0, 0}

	e := NewEngine(100)
	snap := e.Compute("BTCUSDT", barsFromSeries(closes, volumes, deltas))

	// All energies are zero, so no bar clears the composite threshold.
	assert.Empty(t, snap.Vortexes)
	assert.Zero(t, snap.Energy)
}

func TestComputeWindowSliced(t *testing.T) {
	closes := make([]float64, 30)
	volumes := make([]float64, 30)
	deltas := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
		volumes[i] = 100
	}

	e := NewEngine(10)
	snap := e.Compute("BTCUSDT", barsFromSeries(closes, volumes, deltas))

	// Markers index into the sliced window, never past it.
	for _, v := range snap.Vortexes {
		assert.Less(t, v.Index, 10)
	}
}
