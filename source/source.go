// Package source provides frame sources: pull-based readers of mono PCM
// samples in [-1, 1] that feed the beat tracking engine.
package source

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceOpen is returned when a file is missing, unreadable or not audio
	ErrSourceOpen = errors.New("failed to open frame source")

	// ErrUnsupportedFormat is a more specific ErrSourceOpen
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported audio format", ErrSourceOpen)

	// ErrInvalidSampleRate is returned when a source reports a sample rate of zero
	ErrInvalidSampleRate = errors.New("frame source reports an invalid sample rate")
)

// Source is an open stream of mono samples.
//
// Read fills dst and returns the number of samples written. A short read,
// including zero, means the stream has ended; it may be accompanied by
// io.EOF. Any other error is a read failure.
type Source interface {
	SampleRate() int
	Read(dst []float64) (int, error)
	Close() error
}

// CheckSampleRate returns ErrInvalidSampleRate for non-positive rates
func CheckSampleRate(sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSampleRate, sampleRate)
	}
	return nil
}
