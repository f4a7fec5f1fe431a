// Package beat implements causal tempo and beat tracking over a stream of
// hop-sized sample blocks.
package beat

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/RyanBlaney/sonido-tempo/algorithms/common"
	"github.com/RyanBlaney/sonido-tempo/algorithms/temporal"
	"github.com/RyanBlaney/sonido-tempo/logging"
	"github.com/RyanBlaney/sonido-tempo/source"
)

// Engine owns the complete tracking state of one stream. It is not safe for
// concurrent use; independent streams use independent engines.
type Engine struct {
	cfg        Config
	sampleRate int
	logger     logging.Logger

	windower    *common.Windower
	onset       *temporal.OnsetStrength
	history     *common.Ring
	periodicity *temporal.Periodicity
	tracker     *PhaseTracker
	emitter     *Emitter

	hops        int64
	frames      int64
	transitions int
}

// NewEngine creates an engine for a stream at sampleRate that forwards
// beats to sink. A nil logger selects the global logger.
func NewEngine(cfg Config, sampleRate int, sink Sink, logger logging.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := source.CheckSampleRate(sampleRate); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.WithFields(logging.Fields{
			"component": "beat_engine",
		})
	}

	e := &Engine{
		cfg:         cfg,
		sampleRate:  sampleRate,
		logger:      logger,
		windower:    common.NewWindower(cfg.WindowSize, cfg.HopSize),
		onset:       temporal.NewOnsetStrength(cfg.WindowSize, cfg.SilenceRMS),
		history:     common.NewRing(cfg.historyHops(sampleRate)),
		periodicity: temporal.NewPeriodicity(cfg.periodicity(sampleRate)),
		tracker:     NewPhaseTracker(cfg, sampleRate),
		emitter:     NewEmitter(sink, sampleRate, cfg.HopSize),
	}
	e.tracker.OnTransition(e.logTransition)

	logger.Debug("Beat engine created", logging.Fields{
		"sample_rate":     sampleRate,
		"window_size":     cfg.WindowSize,
		"hop_size":        cfg.HopSize,
		"history_hops":    e.history.Cap(),
		"hops_per_second": cfg.HopsPerSecond(sampleRate),
	})

	return e, nil
}

// Process consumes one block of at most HopSize samples. Shorter blocks are
// zero-padded and only their real samples are counted.
func (e *Engine) Process(block []float64) error {
	if len(block) > e.cfg.HopSize {
		return fmt.Errorf("block of %d samples exceeds hop size %d", len(block), e.cfg.HopSize)
	}

	window := e.windower.Push(block)
	strength := e.onset.Strength(window)
	e.history.Push(strength)
	tempo := e.periodicity.Update(e.history)

	hop := e.hops
	e.hops++
	e.frames += int64(len(block))

	decision := e.tracker.Step(hop, strength, tempo, e.history)
	if !decision.Beat {
		return nil
	}

	bpm := tempo.BPM
	if !tempo.Determined() {
		bpm = e.tracker.BPM()
	}
	_, err := e.emitter.Emit(hop, bpm, decision.Confidence, decision.Predicted)
	return err
}

// Finish sends the summary to the sink and returns it
func (e *Engine) Finish() (Summary, error) {
	summary := e.Summary()
	if err := e.emitter.Close(summary); err != nil {
		return summary, err
	}
	summary.Beats = e.emitter.Beats()

	e.logger.Debug("Beat tracking finished", logging.Fields{
		"frames":      summary.TotalFrames,
		"hops":        e.hops,
		"beats":       summary.Beats,
		"transitions": summary.Transitions,
		"final_state": summary.FinalState.String(),
	})
	return summary, nil
}

// Summary describes what has been processed so far
func (e *Engine) Summary() Summary {
	return Summary{
		DurationSeconds: float64(e.frames) / float64(e.sampleRate),
		TotalFrames:     e.frames,
		SampleRate:      e.sampleRate,
		HopCount:        e.frames / int64(e.cfg.HopSize),
		Beats:           e.emitter.Beats(),
		Transitions:     e.transitions,
		FinalState:      e.tracker.State(),
	}
}

// State returns the tracker state
func (e *Engine) State() State {
	return e.tracker.State()
}

// Tempo returns the current smoothed tempo estimate
func (e *Engine) Tempo() TempoEstimate {
	return e.periodicity.Current()
}

// Confidence returns the tracker confidence
func (e *Engine) Confidence() float64 {
	return e.tracker.Confidence()
}

// Hops returns the number of hops processed
func (e *Engine) Hops() int64 {
	return e.hops
}

// Reset drops the tracker back to WARMING_UP. The onset history and the
// tempo estimate are kept so tracking can resume without a cold start.
func (e *Engine) Reset() {
	e.tracker.Reset(e.hops)
}

func (e *Engine) logTransition(t Transition) {
	e.transitions++
	e.logger.Debug("Tracker state changed", logging.Fields{
		"hop":          t.Hop,
		"time_seconds": float64(t.Hop*int64(e.cfg.HopSize)) / float64(e.sampleRate),
		"from":         t.From.String(),
		"to":           t.To.String(),
		"bpm":          t.BPM,
		"confidence":   t.Confidence,
		"next_beat":    e.tracker.NextBeat(),
	})
}

// Run drives an engine over src until the stream ends and sends the summary
// to sink. Cancellation is checked between hops; a cancelled run returns the
// context's error with the summary of what was processed and sends no
// summary to the sink.
func Run(ctx context.Context, src source.Source, cfg Config, sink Sink, logger logging.Logger) (Summary, error) {
	engine, err := NewEngine(cfg, src.SampleRate(), sink, logger)
	if err != nil {
		return Summary{}, err
	}

	block := make([]float64, cfg.HopSize)
	for {
		if err := ctx.Err(); err != nil {
			return engine.Summary(), err
		}

		n, err := src.Read(block)
		if err != nil && !errors.Is(err, io.EOF) {
			return engine.Summary(), fmt.Errorf("failed to read frame source: %w", err)
		}
		if n > 0 {
			if perr := engine.Process(block[:n]); perr != nil {
				return engine.Summary(), perr
			}
		}
		if n < len(block) || err != nil {
			break
		}
	}

	return engine.Finish()
}
