package spectral

import (
	"github.com/RyanBlaney/sonido-tempo/algorithms/common"
)

// Autocorrelation computes the linear autocorrelation of a signal through
// the FFT (Wiener-Khinchin), zero-padding to avoid circular wrap.
type Autocorrelation struct {
	fft    *FFT
	padded []float64
}

// NewAutocorrelation creates a new autocorrelation calculator
func NewAutocorrelation() *Autocorrelation {
	return &Autocorrelation{fft: NewFFT()}
}

// Compute returns r[0..maxLag] of signal with the mean removed. Each lag is
// divided by its number of overlapping terms (unbiased estimate) and the
// result is normalised so that r[0] == 1. A signal without variance returns
// nil.
func (a *Autocorrelation) Compute(signal []float64, maxLag int) []float64 {
	n := len(signal)
	if n < 2 {
		return nil
	}
	maxLag = min(maxLag, n-1)

	size := common.NextPowerOfTwo(2 * n)
	if cap(a.padded) < size {
		a.padded = make([]float64, size)
	}
	padded := a.padded[:size]

	mean := common.Mean(signal)
	for i, v := range signal {
		padded[i] = v - mean
	}
	for i := n; i < size; i++ {
		padded[i] = 0.0
	}

	spectrum := a.fft.Compute(padded)
	for i, c := range spectrum {
		re, im := real(c), imag(c)
		spectrum[i] = complex(re*re+im*im, 0)
	}
	raw := a.fft.ComputeInverseReal(spectrum)

	r0 := raw[0] / float64(n)
	if r0 <= 1e-18 {
		return nil
	}

	r := make([]float64, maxLag+1)
	for lag := 0; lag <= maxLag; lag++ {
		r[lag] = raw[lag] / float64(n-lag) / r0
	}
	return r
}
