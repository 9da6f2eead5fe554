package market

// BarWindow is a bounded, ordered buffer of closed bars. Oldest bars are
// evicted when capacity is reached. It is owned by a single stream runner
// and is not safe for concurrent use.
type BarWindow struct {
	bars []Bar
	cap  int
}

// NewBarWindow creates a window holding at most capacity bars.
func NewBarWindow(capacity int) *BarWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &BarWindow{
		bars: make([]Bar, 0, capacity),
		cap:  capacity,
	}
}

// Append adds a closed bar, evicting the oldest when full.
func (w *BarWindow) Append(b Bar) {
	if len(w.bars) >= w.cap {
		copy(w.bars, w.bars[1:])
		w.bars[len(w.bars)-1] = b
		return
	}
	w.bars = append(w.bars, b)
}

// Len returns the number of buffered bars.
func (w *BarWindow) Len() int {
	return len(w.bars)
}

// Cap returns the window capacity.
func (w *BarWindow) Cap() int {
	return w.cap
}

// Bars returns a copy of the buffered bars in chronological order.
func (w *BarWindow) Bars() []Bar {
	out := make([]Bar, len(w.bars))
	copy(out, w.bars)
	return out
}

// Last returns the most recent bar and whether one exists.
func (w *BarWindow) Last() (Bar, bool) {
	if len(w.bars) == 0 {
		return Bar{}, false
	}
	return w.bars[len(w.bars)-1], true
}

// LastN returns a copy of the most recent n bars (all bars if n exceeds Len).
func (w *BarWindow) LastN(n int) []Bar {
	if n <= 0 {
		return nil
	}
	if n > len(w.bars) {
		n = len(w.bars)
	}
	out := make([]Bar, n)
	copy(out, w.bars[len(w.bars)-n:])
	return out
}
