package temporal

import (
	"github.com/RyanBlaney/sonido-tempo/algorithms/common"
	"github.com/RyanBlaney/sonido-tempo/algorithms/spectral"
	"github.com/RyanBlaney/sonido-tempo/algorithms/windowing"
)

// DefaultSilenceRMS is the window RMS below which a window counts as silent
const DefaultSilenceRMS = 1e-5

// OnsetStrength turns successive analysis windows into a scalar onset
// strength using half-wave rectified spectral flux. It is causal: only the
// current and the previous window's spectrum are used.
type OnsetStrength struct {
	window     *windowing.Hann
	fft        *spectral.FFT
	flux       *spectral.SpectralFlux
	frame      []float64
	magnitudes []float64
	gain       float64
	silenceRMS float64
}

// NewOnsetStrength creates an estimator for windows of windowSize samples.
// Windows whose RMS is below silenceRMS produce zero strength; a
// non-positive silenceRMS selects DefaultSilenceRMS.
func NewOnsetStrength(windowSize int, silenceRMS float64) *OnsetStrength {
	if silenceRMS <= 0 {
		silenceRMS = DefaultSilenceRMS
	}
	hann := windowing.NewHann(windowSize, false)
	// Scales a full-scale sinusoid's bin to ~1 regardless of window size
	gain := 2.0 / hann.Sum()
	return &OnsetStrength{
		window:     hann,
		fft:        spectral.NewFFT(),
		flux:       spectral.NewSpectralFlux(),
		frame:      make([]float64, windowSize),
		magnitudes: make([]float64, windowSize/2+1),
		gain:       gain,
		silenceRMS: silenceRMS,
	}
}

// Strength returns the non-negative onset strength of window relative to
// the previously seen window. Windows of the wrong length yield 0.
func (o *OnsetStrength) Strength(window []float64) float64 {
	if len(window) != o.window.GetSize() {
		return 0.0
	}

	// A silent window still becomes the reference for the next one, so the
	// first sound after silence registers as an onset.
	if common.RMS(window) < o.silenceRMS {
		for i := range o.magnitudes {
			o.magnitudes[i] = 0.0
		}
		o.flux.Next(o.magnitudes)
		return 0.0
	}

	if err := o.window.ApplyTo(o.frame, window); err != nil {
		return 0.0
	}
	o.magnitudes = o.fft.Magnitudes(o.magnitudes, o.frame)
	for i := range o.magnitudes {
		o.magnitudes[i] *= o.gain
	}

	return o.flux.Next(o.magnitudes)
}

// Reset forgets the previous spectrum
func (o *OnsetStrength) Reset() {
	o.flux.Reset()
}
