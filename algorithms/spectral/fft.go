package spectral

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// FFT provides Fast Fourier Transform functionality
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the Fast Fourier Transform using mjibson/go-dsp
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}

	// mjibson/go-dsp handles all sizes, including non-power-of-2
	return fft.FFTReal(x)
}

// ComputeInverseReal computes inverse FFT and returns real part only
func (f *FFT) ComputeInverseReal(x []complex128) []float64 {
	if len(x) == 0 {
		return []float64{}
	}

	result := fft.IFFT(x)
	realResult := make([]float64, len(result))

	for i, val := range result {
		realResult[i] = real(val)
	}

	return realResult
}

// Magnitudes writes |X[k]| for the positive-frequency bins (DC through
// Nyquist) into dst, growing it as needed.
func (f *FFT) Magnitudes(dst []float64, x []float64) []float64 {
	spectrum := f.Compute(x)
	bins := len(spectrum)/2 + 1
	if len(spectrum) == 0 {
		bins = 0
	}
	if cap(dst) < bins {
		dst = make([]float64, bins)
	}
	dst = dst[:bins]

	for i := range bins {
		dst[i] = cmplx.Abs(spectrum[i])
	}
	return dst
}
