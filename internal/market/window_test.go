package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkBar(ts int64, close float64) Bar {
	return Bar{
		Timestamp: time.Unix(ts, 0),
		Open:      close,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    10,
		Closed:    true,
	}
}

func TestBarWindowEviction(t *testing.T) {
	w := NewBarWindow(3)
	for i := 0; i < 5; i++ {
		w.Append(mkBar(int64(i), float64(100+i)))
	}

	require.Equal(t, 3, w.Len())
	bars := w.Bars()
	assert.Equal(t, 102.0, bars[0].Close)
	assert.Equal(t, 103.0, bars[1].Close)
	assert.Equal(t, 104.0, bars[2].Close)
}

func TestBarWindowLast(t *testing.T) {
	w := NewBarWindow(10)

	_, ok := w.Last()
	assert.False(t, ok)

	w.Append(mkBar(1, 100))
	w.Append(mkBar(2, 101))

	last, ok := w.Last()
	require.True(t, ok)
	assert.Equal(t, 101.0, last.Close)
}

func TestBarWindowLastN(t *testing.T) {
	w := NewBarWindow(10)
	for i := 0; i < 6; i++ {
		w.Append(mkBar(int64(i), float64(i)))
	}

	got := w.LastN(3)
	require.Len(t, got, 3)
	assert.Equal(t, 3.0, got[0].Close)
	assert.Equal(t, 5.0, got[2].Close)

	assert.Len(t, w.LastN(100), 6)
	assert.Nil(t, w.LastN(0))
}

func TestBarWindowBarsIsCopy(t *testing.T) {
	w := NewBarWindow(4)
	w.Append(mkBar(1, 100))

	bars := w.Bars()
	bars[0].Close = 999

	last, _ := w.Last()
	assert.Equal(t, 100.0, last.Close)
}

func TestBarValid(t *testing.T) {
	cases := []struct {
		name string
		bar  Bar
		want bool
	}{
		{"normal", Bar{Open: 10, High: 12, Low: 9, Close: 11, Volume: 1}, true},
		{"flat", Bar{Open: 10, High: 10, Low: 10, Close: 10, Volume: 0}, true},
		{"high below close", Bar{Open: 10, High: 10.5, Low: 9, Close: 11, Volume: 1}, false},
		{"low above open", Bar{Open: 10, High: 12, Low: 10.5, Close: 11, Volume: 1}, false},
		{"negative volume", Bar{Open: 10, High: 12, Low: 9, Close: 11, Volume: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.bar.Valid())
		})
	}
}

func TestIntervalDuration(t *testing.T) {
	d, err := IntervalDuration("5m")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	_, err = IntervalDuration("7m")
	assert.Error(t, err)

	assert.True(t, ValidInterval("1h"))
	assert.False(t, ValidInterval("2w"))
}
