package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantevo/vortexbot/internal/market"
	"github.com/quantevo/vortexbot/internal/predictive"
)

func pred(ifi, bpUp, bpDown float64) predictive.Snapshot {
	return predictive.Snapshot{
		Symbol:       "BTCUSDT",
		Timestamp:    time.Unix(1000, 0),
		IFI:          ifi,
		BreakoutUp:   bpUp,
		BreakoutDown: bpDown,
		CollapseRisk: 0.2,
	}
}

func deltaBars(n int, volume, delta float64) []market.Bar {
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{
			Timestamp: time.Unix(int64(i*60), 0),
			Open:      100, High: 101, Low: 99, Close: 100,
			Volume: volume,
			Delta:  delta,
			Closed: true,
		}
	}
	return bars
}

// primeIFI runs one compute so the state holds a previous IFI reading.
func primeIFI(e *Engine, st *State, ifi float64) {
	e.Compute(st, pred(ifi, 0, 0), nil)
}

func TestFirstComputeNeverDirectional(t *testing.T) {
	e := NewEngine(DefaultConfig())
	st := NewState()

	sigs := e.Compute(st, pred(14, 0.90, 0.05), deltaBars(5, 100, 36))
	require.Len(t, sigs, 1)
	assert.Equal(t, TypeNeutral, sigs[0].Type)
}

func TestLongWithBullishDelta(t *testing.T) {
	e := NewEngine(DefaultConfig())
	st := NewState()
	primeIFI(e, st, 12)

	// ratio = 5*36 / 5*100 = 0.36, strength = 0.36/0.6 = 0.6
	sigs := e.Compute(st, pred(14, 0.80, 0.10), deltaBars(5, 100, 36))
	require.Len(t, sigs, 1)

	sig := sigs[0]
	assert.Equal(t, TypeLong, sig.Type)
	assert.Equal(t, RegimeBullish, sig.Regime)
	assert.InDelta(t, 0.85, sig.Confidence, 1e-9)
	assert.InDelta(t, 0.80, sig.BreakoutProb, 1e-9)
	assert.Contains(t, sig.Description, "BULLISH")
}

func TestContraTrendBlocksLong(t *testing.T) {
	e := NewEngine(DefaultConfig())
	st := NewState()
	primeIFI(e, st, 12)

	// ratio = 0.42, strength = 0.7: strong bearish delta blocks the long.
	sigs := e.Compute(st, pred(14, 0.80, 0.10), deltaBars(5, 100, -42))
	require.Len(t, sigs, 1)
	assert.Equal(t, TypeNeutral, sigs[0].Type)
	assert.InDelta(t, 0.2, sigs[0].Confidence, 1e-9)
}

func TestContraTrendBlocksShort(t *testing.T) {
	e := NewEngine(DefaultConfig())
	st := NewState()
	primeIFI(e, st, 12)

	sigs := e.Compute(st, pred(14, 0.10, 0.90), deltaBars(5, 100, 42))
	require.Len(t, sigs, 1)
	assert.Equal(t, TypeNeutral, sigs[0].Type)
}

func TestWeakBearishDeltaPenalizesLong(t *testing.T) {
	e := NewEngine(DefaultConfig())
	st := NewState()
	primeIFI(e, st, 12)

	// ratio = 0.24, strength = 0.4: bearish but below the block threshold,
	// above the minimum, so the long goes out penalized.
	sigs := e.Compute(st, pred(14, 0.80, 0.10), deltaBars(5, 100, -24))
	require.Len(t, sigs, 1)

	sig := sigs[0]
	assert.Equal(t, TypeLong, sig.Type)
	assert.InDelta(t, 0.5, sig.Confidence, 1e-9) // 0.7 - 0.4*0.5
	assert.Contains(t, sig.Description, "WEAK")
}

func TestWeakDeltaSkipsSignal(t *testing.T) {
	e := NewEngine(DefaultConfig())
	st := NewState()
	primeIFI(e, st, 12)

	// ratio = 0.15, strength = 0.25: trending but too weak to trust.
	sigs := e.Compute(st, pred(14, 0.80, 0.10), deltaBars(5, 100, 15))
	require.Len(t, sigs, 1)
	assert.Equal(t, TypeNeutral, sigs[0].Type)
}

func TestThresholdBoundaries(t *testing.T) {
	e := NewEngine(DefaultConfig())

	t.Run("bp_up exactly at threshold", func(t *testing.T) {
		st := NewState()
		primeIFI(e, st, 12)
		sigs := e.Compute(st, pred(14, 0.60, 0), deltaBars(5, 100, 0))
		require.Len(t, sigs, 1)
		assert.Equal(t, TypeLong, sigs[0].Type)
		assert.InDelta(t, 0.5, sigs[0].Confidence, 1e-9)
	})

	t.Run("IFI flat is not rising", func(t *testing.T) {
		st := NewState()
		primeIFI(e, st, 14)
		sigs := e.Compute(st, pred(14, 0.90, 0), deltaBars(5, 100, 0))
		require.Len(t, sigs, 1)
		assert.Equal(t, TypeNeutral, sigs[0].Type)
	})

	t.Run("short needs the higher threshold", func(t *testing.T) {
		st := NewState()
		primeIFI(e, st, 12)
		sigs := e.Compute(st, pred(14, 0, 0.62), deltaBars(5, 100, 0))
		require.Len(t, sigs, 1)
		assert.Equal(t, TypeNeutral, sigs[0].Type)
	})
}

func TestLongWinsTies(t *testing.T) {
	e := NewEngine(DefaultConfig())
	st := NewState()
	primeIFI(e, st, 12)

	sigs := e.Compute(st, pred(14, 0.90, 0.90), deltaBars(5, 100, 0))
	require.Len(t, sigs, 1)
	assert.Equal(t, TypeLong, sigs[0].Type)
}

func TestShortWithBearishDelta(t *testing.T) {
	e := NewEngine(DefaultConfig())
	st := NewState()
	primeIFI(e, st, 12)

	sigs := e.Compute(st, pred(14, 0.10, 0.70), deltaBars(5, 100, -36))
	require.Len(t, sigs, 1)

	sig := sigs[0]
	assert.Equal(t, TypeShort, sig.Type)
	assert.Equal(t, RegimeBearish, sig.Regime)
	assert.InDelta(t, 0.70, sig.Confidence, 1e-9) // 0.5 + 0.05 + 0.6*0.25
}

func TestNeutralConfidence(t *testing.T) {
	e := NewEngine(DefaultConfig())
	st := NewState()
	primeIFI(e, st, 12)

	sigs := e.Compute(st, pred(10, 0.30, 0.40), deltaBars(5, 100, 0))
	require.Len(t, sigs, 1)
	assert.Equal(t, TypeNeutral, sigs[0].Type)
	assert.InDelta(t, 0.6, sigs[0].Confidence, 1e-9)
}

func TestDeltaTrendNeedsThreeBars(t *testing.T) {
	e := NewEngine(DefaultConfig())
	st := NewState()
	primeIFI(e, st, 12)

	sigs := e.Compute(st, pred(14, 0.80, 0), deltaBars(2, 100, 90))
	require.Len(t, sigs, 1)
	// Two bars give no trend, so the long passes on the neutral-trend path.
	assert.Equal(t, TypeLong, sigs[0].Type)
	assert.Equal(t, RegimeNeutral, sigs[0].Regime)
}

func TestStatesAreIndependent(t *testing.T) {
	e := NewEngine(DefaultConfig())
	a := NewState()
	b := NewState()
	primeIFI(e, a, 12)

	// b has no IFI history yet, so the same inputs stay neutral on b.
	sigsA := e.Compute(a, pred(14, 0.80, 0), deltaBars(5, 100, 36))
	sigsB := e.Compute(b, pred(14, 0.80, 0), deltaBars(5, 100, 36))

	assert.Equal(t, TypeLong, sigsA[0].Type)
	assert.Equal(t, TypeNeutral, sigsB[0].Type)
}

func TestConfidenceAlwaysInRange(t *testing.T) {
	e := NewEngine(DefaultConfig())

	bps := []float64{0, 0.3, 0.6, 0.61, 0.65, 0.8, 1.0}
	deltas := []float64{-90, -42, -24, 0, 24, 42, 90}

	for _, up := range bps {
		for _, down := range bps {
			for _, d := range deltas {
				st := NewState()
				primeIFI(e, st, 10)
				sigs := e.Compute(st, pred(11, up, down), deltaBars(6, 100, d))
				require.Len(t, sigs, 1)
				assert.GreaterOrEqual(t, sigs[0].Confidence, 0.0)
				assert.LessOrEqual(t, sigs[0].Confidence, 1.0)
			}
		}
	}
}
