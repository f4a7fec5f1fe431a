package spectral

// SpectralFlux computes half-wave rectified spectral flux between
// consecutive magnitude frames. It keeps exactly one previous frame.
type SpectralFlux struct {
	previous []float64
}

// NewSpectralFlux creates a new spectral flux calculator
func NewSpectralFlux() *SpectralFlux {
	return &SpectralFlux{}
}

// Next returns the summed positive magnitude increase of frame over the
// previous frame and stores frame for the next call. The first frame is
// compared against an all-zero spectrum.
func (sf *SpectralFlux) Next(frame []float64) float64 {
	if len(sf.previous) != len(frame) {
		sf.previous = make([]float64, len(frame))
	}

	sum := 0.0
	for k, mag := range frame {
		diff := mag - sf.previous[k]
		if diff > 0 { // Only positive changes (energy increases)
			sum += diff
		}
	}

	copy(sf.previous, frame)
	return sum
}

// Reset forgets the previous frame
func (sf *SpectralFlux) Reset() {
	for i := range sf.previous {
		sf.previous[i] = 0.0
	}
}
