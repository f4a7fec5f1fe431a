package beat

import (
	"testing"

	"github.com/RyanBlaney/sonido-tempo/algorithms/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2560 Hz with 256-sample hops is 10 hops per second, so a one-second
// threshold span is 10 hops and a 10-hop period is 60 BPM.
const trackerTestRate = 2560

type trackerHarness struct {
	tracker     *PhaseTracker
	ring        *common.Ring
	hop         int64
	transitions []Transition
	decisions   map[int64]Decision
}

func newTrackerHarness(cfg Config) *trackerHarness {
	h := &trackerHarness{
		tracker:   NewPhaseTracker(cfg, trackerTestRate),
		ring:      common.NewRing(cfg.historyHops(trackerTestRate)),
		decisions: make(map[int64]Decision),
	}
	h.tracker.OnTransition(func(t Transition) {
		h.transitions = append(h.transitions, t)
	})
	return h
}

func (h *trackerHarness) step(onset float64, tempo TempoEstimate) Decision {
	h.ring.Push(onset)
	d := h.tracker.Step(h.hop, onset, tempo, h.ring)
	if d.Beat {
		h.decisions[h.hop] = d
	}
	h.hop++
	return d
}

func sixtyBPM(score float64) TempoEstimate {
	return TempoEstimate{PeriodHops: 10, BPM: 60, Score: score}
}

func TestTrackerWaitsForTempo(t *testing.T) {
	t.Parallel()

	h := newTrackerHarness(DefaultConfig())
	for i := 0; i < 50; i++ {
		onset := 0.0
		if i%10 == 0 {
			onset = 1.0
		}
		d := h.step(onset, TempoEstimate{})
		assert.False(t, d.Beat)
	}
	assert.Equal(t, WarmingUp, h.tracker.State())
	assert.Empty(t, h.transitions)
	assert.Equal(t, -1.0, h.tracker.NextBeat())
}

func TestTrackerRequiresMinimumScore(t *testing.T) {
	t.Parallel()

	// Weak periodicity, as in broadband noise, never leaves warm-up
	for _, score := range []float64{0.05, 0.2, 0.29} {
		h := newTrackerHarness(DefaultConfig())
		for i := 0; i < 50; i++ {
			onset := 0.0
			if i%10 == 0 {
				onset = 1.0
			}
			h.step(onset, sixtyBPM(score))
		}
		assert.Equal(t, WarmingUp, h.tracker.State(), "score %.2f", score)
		assert.Empty(t, h.decisions, "score %.2f", score)
	}

	h := newTrackerHarness(DefaultConfig())
	for i := 0; i < 50; i++ {
		onset := 0.0
		if i%10 == 0 {
			onset = 1.0
		}
		h.step(onset, sixtyBPM(0.35))
	}
	assert.Equal(t, Tracking, h.tracker.State())
}

func TestTrackerRequiresAnOnsetToAnchorPhase(t *testing.T) {
	t.Parallel()

	h := newTrackerHarness(DefaultConfig())
	for i := 0; i < 50; i++ {
		h.step(0, sixtyBPM(0.9))
	}
	assert.Equal(t, WarmingUp, h.tracker.State())
}

func TestTrackerLifecycle(t *testing.T) {
	t.Parallel()

	h := newTrackerHarness(DefaultConfig())
	tempo := sixtyBPM(0.5)

	// Pulses every 10 hops up to hop 60, then nothing
	for h.hop <= 60 {
		onset := 0.0
		if h.hop%10 == 0 {
			onset = 1.0
		}
		h.step(onset, tempo)
	}
	for h.hop < 200 {
		h.step(0, tempo)
	}

	require.Len(t, h.transitions, 3)
	assert.Equal(t, Transition{Hop: 3, From: WarmingUp, To: Tracking, BPM: 60, Confidence: 0.5}, h.transitions[0])
	assert.Equal(t, Tracking, h.transitions[1].From)
	assert.Equal(t, Lost, h.transitions[1].To)
	assert.Equal(t, int64(130), h.transitions[1].Hop)
	assert.Equal(t, Lost, h.transitions[2].From)
	assert.Equal(t, WarmingUp, h.transitions[2].To)
	assert.Equal(t, int64(160), h.transitions[2].Hop)

	// Corroborated beats raise confidence up to 1
	expected := []float64{0.6, 0.7, 0.8, 0.9, 1.0, 1.0}
	for i, hop := range []int64{10, 20, 30, 40, 50, 60} {
		d, ok := h.decisions[hop]
		require.True(t, ok, "beat expected at hop %d", hop)
		assert.False(t, d.Predicted)
		assert.InDelta(t, expected[i], d.Confidence, 1e-9)
	}

	// Predicted-only beats decay from the last corroborated confidence
	for i, hop := range []int64{70, 80, 90, 100, 110, 120, 130} {
		d, ok := h.decisions[hop]
		require.True(t, ok, "predicted beat expected at hop %d", hop)
		assert.True(t, d.Predicted)
		want := 1.0
		for j := 0; j <= i; j++ {
			want *= 0.8
		}
		assert.InDelta(t, want, d.Confidence, 1e-9)
	}

	assert.Len(t, h.decisions, 13)
	assert.Equal(t, WarmingUp, h.tracker.State())
	assert.Zero(t, h.tracker.Confidence())
}

func TestTrackerLateOnsetReanchorsPhase(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.PhaseTolerance = 0.3
	h := newTrackerHarness(cfg)
	tempo := sixtyBPM(0.5)

	// On time until hop 20, then the pulses shift two hops later
	for h.hop < 60 {
		onset := 0.0
		if (h.hop <= 20 && h.hop%10 == 0) || (h.hop > 20 && h.hop%10 == 2) {
			onset = 1.0
		}
		h.step(onset, tempo)
	}

	require.Contains(t, h.decisions, int64(30))
	assert.True(t, h.decisions[30].Predicted)
	assert.NotContains(t, h.decisions, int64(32))

	for _, hop := range []int64{42, 52} {
		d, ok := h.decisions[hop]
		require.True(t, ok, "beat expected at hop %d", hop)
		assert.False(t, d.Predicted)
	}
	assert.NotContains(t, h.decisions, int64(40))
	assert.Equal(t, Tracking, h.tracker.State())
}

func TestTrackerResetKeepsRunning(t *testing.T) {
	t.Parallel()

	h := newTrackerHarness(DefaultConfig())
	tempo := sixtyBPM(0.5)
	for h.hop < 25 {
		onset := 0.0
		if h.hop%10 == 0 {
			onset = 1.0
		}
		h.step(onset, tempo)
	}
	require.Equal(t, Tracking, h.tracker.State())

	h.tracker.Reset(h.hop)
	assert.Equal(t, WarmingUp, h.tracker.State())
	assert.Zero(t, h.tracker.Confidence())

	for h.hop < 50 {
		onset := 0.0
		if h.hop%10 == 0 {
			onset = 1.0
		}
		h.step(onset, tempo)
	}
	assert.Equal(t, Tracking, h.tracker.State())
}

func TestThresholdHasAFloor(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	tracker := NewPhaseTracker(cfg, trackerTestRate)
	ring := common.NewRing(60)
	for i := 0; i < 20; i++ {
		ring.Push(0)
	}
	assert.Equal(t, cfg.ThresholdFloor, tracker.Threshold(ring))

	ring.Push(1)
	assert.Greater(t, tracker.Threshold(ring), cfg.ThresholdFloor)
}
