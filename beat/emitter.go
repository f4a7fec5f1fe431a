package beat

import (
	"fmt"
)

// Emitter turns tracker decisions into BeatEvents and forwards them to a
// Sink. Frame indices of forwarded events strictly increase; a beat in the
// same or an earlier hop than the previous one is dropped.
type Emitter struct {
	sink       Sink
	sampleRate int
	hopSize    int

	lastFrame int64
	beats     int
	closed    bool
}

// NewEmitter creates an emitter for a stream at sampleRate
func NewEmitter(sink Sink, sampleRate, hopSize int) *Emitter {
	return &Emitter{
		sink:       sink,
		sampleRate: sampleRate,
		hopSize:    hopSize,
		lastFrame:  -1,
	}
}

// Emit forwards a beat detected in hop. It reports whether the event was
// forwarded; errors come from the sink.
func (e *Emitter) Emit(hop int64, bpm, confidence float64, predicted bool) (bool, error) {
	if e.closed {
		return false, fmt.Errorf("beat emitted after end of stream at hop %d", hop)
	}

	frame := hop * int64(e.hopSize)
	if frame <= e.lastFrame {
		return false, nil
	}

	seconds := float64(frame) / float64(e.sampleRate)
	event := BeatEvent{
		FrameIndex:  frame,
		TimeSeconds: seconds,
		TimeMs:      seconds * 1000.0,
		BPM:         bpm,
		Confidence:  min(max(confidence, 0.0), 1.0),
		Predicted:   predicted,
	}
	if err := e.sink.Beat(event); err != nil {
		return false, fmt.Errorf("sink rejected beat at frame %d: %w", frame, err)
	}

	e.lastFrame = frame
	e.beats++
	return true, nil
}

// Beats returns the number of events forwarded so far
func (e *Emitter) Beats() int {
	return e.beats
}

// Close sends the summary. It is a no-op after the first call.
func (e *Emitter) Close(summary Summary) error {
	if e.closed {
		return nil
	}
	e.closed = true

	summary.Beats = e.beats
	if err := e.sink.Summary(summary); err != nil {
		return fmt.Errorf("sink rejected summary: %w", err)
	}
	return nil
}
