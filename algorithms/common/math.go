package common

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Basic statistical functions used across algorithms, backed by gonum

// Mean calculates the arithmetic mean of a slice using gonum
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return stat.Mean(data, nil)
}

// MeanStdDev returns the mean and the population standard deviation.
// Fewer than two values yield a zero deviation.
func MeanStdDev(data []float64) (float64, float64) {
	switch len(data) {
	case 0:
		return 0.0, 0.0
	case 1:
		return data[0], 0.0
	}
	mean := stat.Mean(data, nil)
	variance := stat.PopVariance(data, nil)
	return mean, math.Sqrt(math.Max(variance, 0))
}

// RMS calculates root mean square
func RMS(data []float64) float64 {
	if len(data) == 0 {
		return 0.0
	}
	return floats.Norm(data, 2) / math.Sqrt(float64(len(data)))
}

// ArgMax returns the index of the largest value, or -1 for an empty slice
func ArgMax(data []float64) int {
	if len(data) == 0 {
		return -1
	}
	return floats.MaxIdx(data)
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// NextPowerOfTwo returns the smallest power of two >= n
func NextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Interpolate reads data at a fractional index using linear interpolation.
// Indices outside the slice return 0.
func Interpolate(data []float64, x float64) float64 {
	if x < 0 || x > float64(len(data)-1) {
		return 0.0
	}
	i := int(x)
	frac := x - float64(i)
	if frac == 0 || i+1 >= len(data) {
		return data[i]
	}
	return data[i] + frac*(data[i+1]-data[i])
}

// ParabolicPeak refines a peak at index i using its two neighbours and
// returns the fractional offset in [-0.5, 0.5].
func ParabolicPeak(left, center, right float64) float64 {
	denom := left - 2*center + right
	if math.Abs(denom) < 1e-12 {
		return 0.0
	}
	return Clamp(0.5*(left-right)/denom, -0.5, 0.5)
}
