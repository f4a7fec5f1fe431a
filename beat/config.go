package beat

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/RyanBlaney/sonido-tempo/algorithms/temporal"
)

// ErrInvalidConfig is returned by Validate and LoadConfig
var ErrInvalidConfig = errors.New("invalid beat tracking configuration")

// Config holds every tunable of the engine. Durations are in seconds and
// converted to hops for the sample rate of the stream being analysed.
type Config struct {
	// Analysis framing
	WindowSize int `json:"window_size"`
	HopSize    int `json:"hop_size"`

	// Onset strength
	SilenceRMS float64 `json:"silence_rms"` // window RMS treated as silence

	// Onset history and tempo induction
	HistorySeconds    float64 `json:"history_seconds"`
	MinHistorySeconds float64 `json:"min_history_seconds"`
	UpdateInterval    int     `json:"update_interval"` // hops between tempo updates
	MinBPM            float64 `json:"min_bpm"`
	MaxBPM            float64 `json:"max_bpm"`
	PriorCenterBPM    float64 `json:"prior_center_bpm"`
	PriorWidthOctaves float64 `json:"prior_width_octaves"`
	OctaveMargin      float64 `json:"octave_margin"`
	OffbeatPenalty    float64 `json:"offbeat_penalty"`
	Harmonics         int     `json:"harmonics"`
	SmoothingAlpha    float64 `json:"smoothing_alpha"`
	SwitchThreshold   float64 `json:"switch_threshold"`
	SwitchPatience    int     `json:"switch_patience"`

	// Phase tracking
	MinScore          float64 `json:"min_score"`         // tempo score needed to leave warm-up
	ThresholdSeconds  float64 `json:"threshold_seconds"` // span of the adaptive threshold
	ThresholdK        float64 `json:"threshold_k"`       // std deviations above the mean
	ThresholdFloor    float64 `json:"threshold_floor"`   // absolute minimum onset strength
	PhaseTolerance    float64 `json:"phase_tolerance"`   // fraction of the period
	ConfidenceStep    float64 `json:"confidence_step"`   // added on corroborated beats
	ConfidenceDecay   float64 `json:"confidence_decay"`  // multiplier on predicted-only beats
	LostFloor         float64 `json:"lost_floor"`        // confidence below which tracking is lost
	LostAfterMisses   int     `json:"lost_after_misses"` // consecutive uncorroborated beats
	LostDecay         float64 `json:"lost_decay"`        // per-period multiplier while lost
	ZeroConfidence    float64 `json:"zero_confidence"`   // level treated as zero while lost
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		WindowSize: 1024,
		HopSize:    256,

		SilenceRMS: temporal.DefaultSilenceRMS,

		HistorySeconds:    6.0,
		MinHistorySeconds: 2.0,
		UpdateInterval:    8,
		MinBPM:            40,
		MaxBPM:            240,
		PriorCenterBPM:    120,
		PriorWidthOctaves: 1.0,
		OctaveMargin:      0.10,
		OffbeatPenalty:    0.6,
		Harmonics:         4,
		SmoothingAlpha:    0.3,
		SwitchThreshold:   0.08,
		SwitchPatience:    3,

		MinScore:         0.3,
		ThresholdSeconds: 1.0,
		ThresholdK:       1.5,
		ThresholdFloor:   1e-4,
		PhaseTolerance:   0.12,
		ConfidenceStep:   0.1,
		ConfidenceDecay:  0.8,
		LostFloor:        0.25,
		LostAfterMisses:  3,
		LostDecay:        0.5,
		ZeroConfidence:   0.05,
	}
}

// LoadConfig reads a JSON file and overlays it on DefaultConfig
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with
func (c Config) Validate() error {
	switch {
	case c.WindowSize <= 0:
		return fmt.Errorf("%w: window size must be positive: %d", ErrInvalidConfig, c.WindowSize)
	case c.HopSize <= 0 || c.HopSize > c.WindowSize:
		return fmt.Errorf("%w: hop size must be in (0, %d]: %d", ErrInvalidConfig, c.WindowSize, c.HopSize)
	case c.MinBPM <= 0 || c.MaxBPM <= c.MinBPM:
		return fmt.Errorf("%w: tempo range must satisfy 0 < min < max: %.1f-%.1f", ErrInvalidConfig, c.MinBPM, c.MaxBPM)
	case c.HistorySeconds <= 0 || c.MinHistorySeconds <= 0 || c.MinHistorySeconds > c.HistorySeconds:
		return fmt.Errorf("%w: history must satisfy 0 < min (%.2fs) <= history (%.2fs)",
			ErrInvalidConfig, c.MinHistorySeconds, c.HistorySeconds)
	case c.UpdateInterval < 1:
		return fmt.Errorf("%w: update interval must be at least one hop: %d", ErrInvalidConfig, c.UpdateInterval)
	case c.PriorCenterBPM <= 0 || c.PriorWidthOctaves <= 0:
		return fmt.Errorf("%w: tempo prior needs a positive centre and width: %.1f bpm, %.2f octaves",
			ErrInvalidConfig, c.PriorCenterBPM, c.PriorWidthOctaves)
	case c.Harmonics < 1:
		return fmt.Errorf("%w: harmonics must be at least 1: %d", ErrInvalidConfig, c.Harmonics)
	case c.OctaveMargin < 0 || c.OffbeatPenalty < 0:
		return fmt.Errorf("%w: octave margin and off-beat penalty must not be negative", ErrInvalidConfig)
	case c.SwitchThreshold < 0 || c.SwitchPatience < 1:
		return fmt.Errorf("%w: tempo switching needs a threshold >= 0 and patience >= 1", ErrInvalidConfig)
	case c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1:
		return fmt.Errorf("%w: smoothing alpha must be in (0, 1]: %.3f", ErrInvalidConfig, c.SmoothingAlpha)
	case c.PhaseTolerance <= 0 || c.PhaseTolerance >= 0.5:
		return fmt.Errorf("%w: phase tolerance must be in (0, 0.5): %.3f", ErrInvalidConfig, c.PhaseTolerance)
	case c.ConfidenceDecay <= 0 || c.ConfidenceDecay >= 1 || c.LostDecay <= 0 || c.LostDecay >= 1:
		return fmt.Errorf("%w: decay factors must be in (0, 1)", ErrInvalidConfig)
	case c.MinScore < 0 || c.MinScore > 1:
		return fmt.Errorf("%w: minimum score must be in [0, 1]: %.3f", ErrInvalidConfig, c.MinScore)
	case c.ConfidenceStep <= 0 || c.ConfidenceStep > 1:
		return fmt.Errorf("%w: confidence step must be in (0, 1]: %.3f", ErrInvalidConfig, c.ConfidenceStep)
	case c.LostAfterMisses < 1:
		return fmt.Errorf("%w: lost-after-misses must be at least 1: %d", ErrInvalidConfig, c.LostAfterMisses)
	case c.LostFloor < 0 || c.LostFloor > 1 || c.ZeroConfidence < 0 || c.ZeroConfidence > 1:
		return fmt.Errorf("%w: confidence levels must be in [0, 1]", ErrInvalidConfig)
	case c.ThresholdK < 0 || c.ThresholdFloor < 0:
		return fmt.Errorf("%w: threshold k and floor must not be negative", ErrInvalidConfig)
	case c.ThresholdSeconds <= 0:
		return fmt.Errorf("%w: threshold span must be positive: %.3f", ErrInvalidConfig, c.ThresholdSeconds)
	}
	return nil
}

// HopsPerSecond returns the hop rate for a sample rate
func (c Config) HopsPerSecond(sampleRate int) float64 {
	return float64(sampleRate) / float64(c.HopSize)
}

// historyHops converts the history span into a ring capacity
func (c Config) historyHops(sampleRate int) int {
	return int(math.Ceil(c.HistorySeconds * c.HopsPerSecond(sampleRate)))
}

func (c Config) thresholdHops(sampleRate int) int {
	return max(int(math.Ceil(c.ThresholdSeconds*c.HopsPerSecond(sampleRate))), 2)
}

func (c Config) periodicity(sampleRate int) temporal.PeriodicityConfig {
	hps := c.HopsPerSecond(sampleRate)
	return temporal.PeriodicityConfig{
		HopsPerSecond:     hps,
		MinBPM:            c.MinBPM,
		MaxBPM:            c.MaxBPM,
		MinHistoryHops:    int(math.Ceil(c.MinHistorySeconds * hps)),
		UpdateInterval:    c.UpdateInterval,
		PriorCenterBPM:    c.PriorCenterBPM,
		PriorWidthOctaves: c.PriorWidthOctaves,
		OctaveMargin:      c.OctaveMargin,
		OffbeatPenalty:    c.OffbeatPenalty,
		Harmonics:         c.Harmonics,
		SmoothingAlpha:    c.SmoothingAlpha,
		SwitchThreshold:   c.SwitchThreshold,
		SwitchPatience:    c.SwitchPatience,
	}
}
