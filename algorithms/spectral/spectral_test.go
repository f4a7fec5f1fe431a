package spectral

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagnitudesOfSine(t *testing.T) {
	t.Parallel()

	const n = 64
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * 4 * float64(i) / n)
	}

	mags := NewFFT().Magnitudes(nil, x)
	require.Len(t, mags, n/2+1)
	assert.InDelta(t, n/2, mags[4], 1e-9)
	assert.InDelta(t, 0.0, mags[3], 1e-9)
	assert.InDelta(t, 0.0, mags[0], 1e-9)
}

func TestMagnitudesEmpty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, NewFFT().Magnitudes(nil, nil))
}

func TestSpectralFluxHalfWaveRectified(t *testing.T) {
	t.Parallel()

	sf := NewSpectralFlux()
	assert.Equal(t, 3.0, sf.Next([]float64{1, 2, 0}))
	// only the increase in bin 2 counts
	assert.Equal(t, 4.0, sf.Next([]float64{0, 1, 4}))
	assert.Equal(t, 0.0, sf.Next([]float64{0, 1, 4}))

	sf.Reset()
	assert.Equal(t, 5.0, sf.Next([]float64{0, 1, 4}))
}

func TestAutocorrelationOfPulseTrain(t *testing.T) {
	t.Parallel()

	x := make([]float64, 400)
	for i := 0; i < len(x); i += 40 {
		x[i] = 1
	}

	r := NewAutocorrelation().Compute(x, 120)
	require.Len(t, r, 121)
	assert.InDelta(t, 1.0, r[0], 1e-9)
	assert.Greater(t, r[40], 0.9)
	assert.Greater(t, r[80], 0.9)
	assert.Less(t, r[20], 0.0)
}

func TestAutocorrelationOfConstantIsNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewAutocorrelation().Compute(make([]float64, 100), 10))
	assert.Nil(t, NewAutocorrelation().Compute([]float64{1}, 10))
}
