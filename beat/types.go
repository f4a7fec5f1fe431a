package beat

import (
	"github.com/RyanBlaney/sonido-tempo/algorithms/temporal"
)

// TempoEstimate is the periodicity estimator's output
type TempoEstimate = temporal.TempoEstimate

// State is the phase tracker's state
type State int

const (
	// WarmingUp means there is not yet a usable tempo and phase
	WarmingUp State = iota
	// Tracking means beats are being predicted and emitted
	Tracking
	// Lost means confidence fell below the floor; history is retained
	Lost
)

func (s State) String() string {
	switch s {
	case WarmingUp:
		return "WARMING_UP"
	case Tracking:
		return "TRACKING"
	case Lost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// BeatEvent is a detected beat. FrameIndex is the sample offset of the hop
// in which the beat was detected.
type BeatEvent struct {
	FrameIndex  int64   `json:"frame_index"`
	TimeSeconds float64 `json:"time_seconds"`
	TimeMs      float64 `json:"time_ms"`
	BPM         float64 `json:"bpm"`
	Confidence  float64 `json:"confidence"`
	// Predicted is true when no onset corroborated the beat
	Predicted bool `json:"predicted"`
}

// Summary closes every event sequence
type Summary struct {
	DurationSeconds float64 `json:"total_duration_seconds"`
	TotalFrames     int64   `json:"total_frames"`
	SampleRate      int     `json:"sample_rate"`
	HopCount        int64   `json:"hop_count"`
	Beats           int     `json:"beats"`
	Transitions     int     `json:"transitions"`
	FinalState      State   `json:"final_state"`
}

// Transition records a tracker state change
type Transition struct {
	Hop        int64
	From       State
	To         State
	BPM        float64
	Confidence float64
}

// Sink receives the engine's output. Beat is called in emission order and
// Summary exactly once at the end of a stream.
type Sink interface {
	Beat(event BeatEvent) error
	Summary(summary Summary) error
}

// Collector is a Sink that keeps everything in memory
type Collector struct {
	Events []BeatEvent
	Final  *Summary
}

func (c *Collector) Beat(event BeatEvent) error {
	c.Events = append(c.Events, event)
	return nil
}

func (c *Collector) Summary(summary Summary) error {
	c.Final = &summary
	return nil
}

// SinkFuncs adapts plain functions to a Sink; nil functions are skipped
type SinkFuncs struct {
	OnBeat    func(BeatEvent) error
	OnSummary func(Summary) error
}

func (s SinkFuncs) Beat(event BeatEvent) error {
	if s.OnBeat == nil {
		return nil
	}
	return s.OnBeat(event)
}

func (s SinkFuncs) Summary(summary Summary) error {
	if s.OnSummary == nil {
		return nil
	}
	return s.OnSummary(summary)
}
