package source

import "io"

// Slice is an in-memory Source
type Slice struct {
	samples    []float64
	sampleRate int
	pos        int
}

// NewSlice wraps samples; the slice is not copied
func NewSlice(samples []float64, sampleRate int) *Slice {
	return &Slice{samples: samples, sampleRate: sampleRate}
}

func (s *Slice) SampleRate() int {
	return s.sampleRate
}

func (s *Slice) Read(dst []float64) (int, error) {
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}
	n := copy(dst, s.samples[s.pos:])
	s.pos += n
	return n, nil
}

func (s *Slice) Close() error {
	return nil
}

// Len returns the total number of samples
func (s *Slice) Len() int {
	return len(s.samples)
}
