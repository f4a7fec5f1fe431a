package beat

import (
	"math"

	"github.com/RyanBlaney/sonido-tempo/algorithms/common"
)

// Decision is the phase tracker's verdict for one hop
type Decision struct {
	Beat       bool
	Predicted  bool
	Confidence float64
}

// PhaseTracker decides hop by hop whether the current hop is a beat, from
// the tempo estimate and the onset history. It never fails: degraded input
// shows up as state and confidence.
type PhaseTracker struct {
	cfg           Config
	hopsPerSecond float64
	thresholdHops int
	scratch       []float64

	state       State
	confidence  float64
	lastGenuine float64
	period      float64
	predicted   float64
	misses      int
	lateUntil   float64

	onTransition func(Transition)
}

// NewPhaseTracker creates a tracker for the given sample rate
func NewPhaseTracker(cfg Config, sampleRate int) *PhaseTracker {
	return &PhaseTracker{
		cfg:           cfg,
		hopsPerSecond: cfg.HopsPerSecond(sampleRate),
		thresholdHops: cfg.thresholdHops(sampleRate),
		state:         WarmingUp,
		lateUntil:     -1,
	}
}

// OnTransition registers a callback invoked on every state change
func (t *PhaseTracker) OnTransition(fn func(Transition)) {
	t.onTransition = fn
}

// State returns the current state
func (t *PhaseTracker) State() State {
	return t.state
}

// Confidence returns the current confidence in [0, 1]
func (t *PhaseTracker) Confidence() float64 {
	return t.confidence
}

// NextBeat returns the predicted hop of the next beat, or -1 outside TRACKING
func (t *PhaseTracker) NextBeat() float64 {
	if t.state != Tracking {
		return -1
	}
	return t.predicted
}

// BPM returns the tempo of the period being tracked
func (t *PhaseTracker) BPM() float64 {
	return t.bpm()
}

// Reset returns to WARMING_UP; the caller keeps the onset history
func (t *PhaseTracker) Reset(hop int64) {
	t.confidence = 0
	t.lastGenuine = 0
	t.misses = 0
	t.lateUntil = -1
	t.transition(hop, WarmingUp)
}

// Threshold returns the adaptive onset threshold over the recent history
func (t *PhaseTracker) Threshold(history *common.Ring) float64 {
	t.scratch = history.Tail(t.scratch, t.thresholdHops)
	mean, std := common.MeanStdDev(t.scratch)
	return math.Max(mean+t.cfg.ThresholdK*std, t.cfg.ThresholdFloor)
}

// Step processes one hop. history must already contain onset as its newest value.
func (t *PhaseTracker) Step(hop int64, onset float64, tempo TempoEstimate, history *common.Ring) Decision {
	threshold := t.Threshold(history)
	if tempo.Determined() {
		t.period = tempo.PeriodHops
	}

	switch t.state {
	case WarmingUp:
		return t.acquire(hop, tempo, history, threshold)
	case Tracking:
		return t.track(hop, onset > threshold)
	case Lost:
		t.decayLost(hop)
	}
	return Decision{Confidence: t.confidence}
}

// acquire enters TRACKING once the tempo is trustworthy and a recent onset
// peak anchors the phase.
func (t *PhaseTracker) acquire(hop int64, tempo TempoEstimate, history *common.Ring, threshold float64) Decision {
	if !tempo.Determined() || tempo.Score < t.cfg.MinScore {
		return Decision{Confidence: t.confidence}
	}

	span := int(math.Ceil(t.period))
	t.scratch = history.Tail(t.scratch, span)
	idx := common.ArgMax(t.scratch)
	if idx < 0 || t.scratch[idx] <= threshold {
		return Decision{Confidence: t.confidence}
	}

	peakHop := hop - int64(len(t.scratch)-1-idx)
	t.predicted = float64(peakHop) + t.period
	for t.predicted <= float64(hop) {
		t.predicted += t.period
	}
	t.confidence = common.Clamp(tempo.Score, 0, 1)
	t.lastGenuine = t.confidence
	t.misses = 0
	t.lateUntil = -1
	t.transition(hop, Tracking)

	if peakHop == hop {
		return t.corroborate(hop)
	}
	return Decision{Confidence: t.confidence}
}

func (t *PhaseTracker) track(hop int64, isOnset bool) Decision {
	h := float64(hop)
	tolerance := t.cfg.PhaseTolerance * t.period

	if isOnset && h >= t.predicted-tolerance && h <= t.predicted+tolerance {
		return t.corroborate(hop)
	}

	// An onset shortly after a predicted-only beat re-anchors the phase
	if t.lateUntil >= 0 {
		if h > t.lateUntil {
			t.lateUntil = -1
		} else if isOnset {
			t.predicted = h + t.period
			t.misses = 0
			t.confidence = math.Min(1, t.confidence+t.cfg.ConfidenceStep)
			t.lastGenuine = t.confidence
			t.lateUntil = -1
			return Decision{Confidence: t.confidence}
		}
	}

	if h < t.predicted {
		return Decision{Confidence: t.confidence}
	}

	t.misses++
	t.confidence = common.Clamp(t.lastGenuine*math.Pow(t.cfg.ConfidenceDecay, float64(t.misses)), 0, 1)
	t.lateUntil = t.predicted + tolerance
	t.predicted += t.period
	decision := Decision{Beat: true, Predicted: true, Confidence: t.confidence}

	if t.misses >= t.cfg.LostAfterMisses && t.confidence < t.cfg.LostFloor {
		t.lateUntil = -1
		t.transition(hop, Lost)
	}
	return decision
}

func (t *PhaseTracker) corroborate(hop int64) Decision {
	t.confidence = math.Min(1, t.confidence+t.cfg.ConfidenceStep)
	t.lastGenuine = t.confidence
	t.misses = 0
	t.lateUntil = -1
	t.predicted = float64(hop) + t.period
	return Decision{Beat: true, Confidence: t.confidence}
}

// decayLost keeps the beat clock running without emitting, until the
// confidence is spent.
func (t *PhaseTracker) decayLost(hop int64) {
	if float64(hop) < t.predicted {
		return
	}
	t.predicted += t.period
	t.confidence *= t.cfg.LostDecay
	if t.confidence < t.cfg.ZeroConfidence {
		t.confidence = 0
		t.transition(hop, WarmingUp)
	}
}

func (t *PhaseTracker) transition(hop int64, to State) {
	if t.state == to {
		return
	}
	from := t.state
	t.state = to
	if t.onTransition != nil {
		t.onTransition(Transition{
			Hop:        hop,
			From:       from,
			To:         to,
			BPM:        t.bpm(),
			Confidence: t.confidence,
		})
	}
}

// bpm is the tempo of the period being tracked, 0 before the first estimate
func (t *PhaseTracker) bpm() float64 {
	if t.period <= 0 {
		return 0
	}
	return 60.0 * t.hopsPerSecond / t.period
}
