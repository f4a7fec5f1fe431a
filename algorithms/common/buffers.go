package common

// Ring is a fixed-capacity circular buffer of float64 values.
// Once full, every Push overwrites the oldest value.
type Ring struct {
	buffer   []float64
	size     int
	writePos int
	count    int
}

// NewRing creates a ring holding at most size values
func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{
		buffer: make([]float64, size),
		size:   size,
	}
}

// Push appends a value, overwriting the oldest one when full
func (r *Ring) Push(v float64) {
	r.buffer[r.writePos] = v
	r.writePos = (r.writePos + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// Len returns the number of values currently held
func (r *Ring) Len() int {
	return r.count
}

// Cap returns the ring capacity
func (r *Ring) Cap() int {
	return r.size
}

// At returns the value pushed age steps ago; At(0) is the newest.
// Out-of-range ages return 0.
func (r *Ring) At(age int) float64 {
	if age < 0 || age >= r.count {
		return 0
	}
	idx := (r.writePos - 1 - age + 2*r.size) % r.size
	return r.buffer[idx]
}

// Snapshot copies the held values into dst, oldest first, growing dst as
// needed, and returns the filled slice.
func (r *Ring) Snapshot(dst []float64) []float64 {
	return r.Tail(dst, r.count)
}

// Tail copies the n newest values into dst, oldest first
func (r *Ring) Tail(dst []float64, n int) []float64 {
	n = min(max(n, 0), r.count)
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]

	start := (r.writePos - n + r.size) % r.size
	first := min(n, r.size-start)
	copy(dst, r.buffer[start:start+first])
	copy(dst[first:], r.buffer[:n-first])
	return dst
}

// Windower assembles overlapping analysis windows from hop-sized blocks.
// The window starts zero-filled, so early windows are zero-padded on the left.
type Windower struct {
	buffer     []float64
	windowSize int
	hopSize    int
	pushed     int
}

// NewWindower creates a windower; hopSize is clamped to windowSize
func NewWindower(windowSize, hopSize int) *Windower {
	hopSize = min(max(hopSize, 1), windowSize)
	return &Windower{
		buffer:     make([]float64, windowSize),
		windowSize: windowSize,
		hopSize:    hopSize,
	}
}

// Push shifts one hop into the window and returns the current window.
// Blocks shorter than the hop are zero-padded; samples past the hop are
// ignored. The returned slice is owned by the windower and is only valid
// until the next Push or Reset.
func (w *Windower) Push(block []float64) []float64 {
	keep := w.windowSize - w.hopSize
	copy(w.buffer, w.buffer[w.hopSize:])

	n := copy(w.buffer[keep:], block)
	for i := keep + n; i < w.windowSize; i++ {
		w.buffer[i] = 0.0
	}
	w.pushed++

	return w.buffer
}

// Ready reports whether the window is entirely made of pushed samples
func (w *Windower) Ready() bool {
	return w.pushed*w.hopSize >= w.windowSize
}

// Reset clears the window
func (w *Windower) Reset() {
	w.pushed = 0
	for i := range w.buffer {
		w.buffer[i] = 0.0
	}
}
