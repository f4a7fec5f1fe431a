package windowing

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Hann represents a Hann window function
type Hann struct {
	size         int
	symmetric    bool
	coefficients []float64
	sum          float64
}

// NewHann creates a new Hann window. Spectral analysis frames want the
// periodic form (symmetric=false).
func NewHann(size int, symmetric bool) *Hann {
	h := &Hann{
		size:      size,
		symmetric: symmetric,
	}
	h.generate()
	return h
}

func (h *Hann) generate() {
	h.coefficients = make([]float64, h.size)

	denominator := float64(h.size)
	if h.symmetric {
		denominator = float64(h.size - 1)
	}

	for i := range h.size {
		h.coefficients[i] = 0.5 * (1.0 - math.Cos(2*math.Pi*float64(i)/denominator))
	}
	h.sum = floats.Sum(h.coefficients)
}

// ApplyTo writes signal*window into dst and returns an error when either
// length differs from the window size.
func (h *Hann) ApplyTo(dst, signal []float64) error {
	if len(signal) != h.size || len(dst) != h.size {
		return fmt.Errorf("signal length (%d) or destination length (%d) doesn't match window size (%d)",
			len(signal), len(dst), h.size)
	}
	floats.MulTo(dst, signal, h.coefficients)
	return nil
}

// Sum returns the sum of the coefficients (the window's coherent gain times size)
func (h *Hann) Sum() float64 {
	return h.sum
}

// GetSize returns the window size
func (h *Hann) GetSize() int {
	return h.size
}
