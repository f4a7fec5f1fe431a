package beat

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/RyanBlaney/sonido-tempo/logging"
	"github.com/RyanBlaney/sonido-tempo/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSampleRate = 44100

// clickTrain returns seconds of audio with single-sample clicks at bpm,
// starting at startSeconds.
func clickTrain(bpm, seconds, startSeconds float64) []float64 {
	n := int(seconds * testSampleRate)
	out := make([]float64, n)
	interval := 60.0 / bpm * testSampleRate
	for pos := startSeconds * testSampleRate; int(pos) < n; pos += interval {
		out[int(pos)] = 0.8
	}
	return out
}

func runSamples(t *testing.T, samples []float64) (*Collector, Summary) {
	t.Helper()

	sink := &Collector{}
	summary, err := Run(context.Background(), source.NewSlice(samples, testSampleRate),
		DefaultConfig(), sink, &logging.NoOpLogger{})
	require.NoError(t, err)
	require.NotNil(t, sink.Final)
	return sink, summary
}

func medianBPM(events []BeatEvent, afterSeconds float64) float64 {
	var bpms []float64
	for _, e := range events {
		if e.TimeSeconds >= afterSeconds {
			bpms = append(bpms, e.BPM)
		}
	}
	if len(bpms) == 0 {
		return 0
	}
	sort.Float64s(bpms)
	return bpms[len(bpms)/2]
}

func assertWellFormed(t *testing.T, events []BeatEvent) {
	t.Helper()

	for i, e := range events {
		assert.GreaterOrEqual(t, e.Confidence, 0.0)
		assert.LessOrEqual(t, e.Confidence, 1.0)
		if i > 0 {
			assert.Greater(t, e.FrameIndex, events[i-1].FrameIndex)
		}
	}
}

func TestEngineTracksClickTrain(t *testing.T) {
	t.Parallel()

	sink, summary := runSamples(t, clickTrain(120, 30, 0))

	require.NotEmpty(t, sink.Events)
	assert.LessOrEqual(t, sink.Events[0].TimeSeconds, 4.0)
	for _, e := range sink.Events {
		if e.TimeSeconds >= 4.0 {
			assert.InDelta(t, 120.0, e.BPM, 2.0, "beat at %.2fs", e.TimeSeconds)
		}
	}
	assert.Equal(t, Tracking, summary.FinalState)
	assert.Equal(t, len(sink.Events), summary.Beats)
	assertWellFormed(t, sink.Events)

	// Roughly one beat per half second once tracking
	assert.InDelta(t, 60, len(sink.Events), 8)
}

func TestEngineSilence(t *testing.T) {
	t.Parallel()

	sink, summary := runSamples(t, make([]float64, 10*testSampleRate))

	assert.Empty(t, sink.Events)
	assert.Equal(t, WarmingUp, summary.FinalState)
	assert.Zero(t, summary.Transitions)
}

func TestEngineDistinguishesDoubleTempo(t *testing.T) {
	t.Parallel()

	slow, _ := runSamples(t, clickTrain(120, 30, 0))
	fast, _ := runSamples(t, clickTrain(240, 30, 0))

	slowBPM := medianBPM(slow.Events, 4)
	fastBPM := medianBPM(fast.Events, 4)
	assert.InDelta(t, 120.0, slowBPM, 2.0)
	assert.Greater(t, fastBPM, 180.0)
	assertWellFormed(t, fast.Events)
}

func TestEngineIsDeterministic(t *testing.T) {
	t.Parallel()

	samples := clickTrain(100, 20, 0.3)
	first, s1 := runSamples(t, samples)
	second, s2 := runSamples(t, samples)

	assert.Equal(t, first.Events, second.Events)
	assert.Equal(t, s1, s2)
}

func TestEngineNoiseIsWellFormed(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	samples := make([]float64, 15*testSampleRate)
	for i := range samples {
		samples[i] = 0.3 * (rng.Float64()*2 - 1)
	}
	// A few irregular bursts
	for _, at := range []float64{2.1, 2.9, 4.4, 5.05, 7.7, 8.0, 11.3} {
		samples[int(at*testSampleRate)] = 1.0
	}

	sink, _ := runSamples(t, samples)
	assertWellFormed(t, sink.Events)
}

func TestEngineSilenceThenClicks(t *testing.T) {
	t.Parallel()

	samples := clickTrain(100, 30, 10)
	sink, summary := runSamples(t, samples)

	require.NotEmpty(t, sink.Events)
	assert.GreaterOrEqual(t, sink.Events[0].TimeSeconds, 10.0)
	assert.GreaterOrEqual(t, summary.Transitions, 1)
	assert.Equal(t, Tracking, summary.FinalState)
	assert.InDelta(t, 100.0, sink.Events[len(sink.Events)-1].BPM, 3.0)

	assert.Equal(t, int64(len(samples)), summary.TotalFrames)
	assert.InDelta(t, 30.0*testSampleRate, float64(summary.TotalFrames), 256)
	assert.InDelta(t, 30.0, summary.DurationSeconds, 1e-9)
	assert.Equal(t, int64(len(samples)/256), summary.HopCount)
	assertWellFormed(t, sink.Events)
}

func TestRunPartialLastBlock(t *testing.T) {
	t.Parallel()

	sink := &Collector{}
	summary, err := Run(context.Background(), source.NewSlice(make([]float64, 1000), 8000),
		DefaultConfig(), sink, &logging.NoOpLogger{})
	require.NoError(t, err)

	assert.Equal(t, int64(1000), summary.TotalFrames)
	assert.Equal(t, int64(3), summary.HopCount)
	assert.Equal(t, 8000, summary.SampleRate)
	assert.InDelta(t, 0.125, summary.DurationSeconds, 1e-12)
	require.NotNil(t, sink.Final)
	assert.Equal(t, summary, *sink.Final)
}

func TestRunRejectsZeroSampleRate(t *testing.T) {
	t.Parallel()

	sink := &Collector{}
	_, err := Run(context.Background(), source.NewSlice(make([]float64, 1000), 0),
		DefaultConfig(), sink, &logging.NoOpLogger{})
	assert.ErrorIs(t, err, source.ErrInvalidSampleRate)
	assert.Nil(t, sink.Final)
	assert.Empty(t, sink.Events)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.HopSize = 0
	_, err := Run(context.Background(), source.NewSlice(nil, 44100), cfg, &Collector{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	processed := 0
	sink := SinkFuncs{
		OnBeat: func(BeatEvent) error {
			processed++
			if processed == 3 {
				cancel()
			}
			return nil
		},
	}

	summary, err := Run(ctx, source.NewSlice(clickTrain(120, 30, 0), testSampleRate),
		DefaultConfig(), sink, &logging.NoOpLogger{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, processed)
	assert.Less(t, summary.TotalFrames, int64(30*testSampleRate))
	assert.Greater(t, summary.TotalFrames, int64(0))
}

func TestRunPropagatesSinkErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("closed pipe")
	sink := SinkFuncs{OnBeat: func(BeatEvent) error { return boom }}

	_, err := Run(context.Background(), source.NewSlice(clickTrain(120, 10, 0), testSampleRate),
		DefaultConfig(), sink, &logging.NoOpLogger{})
	assert.ErrorIs(t, err, boom)
}

func TestEngineResetRetainsTempo(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(DefaultConfig(), testSampleRate, &Collector{}, &logging.NoOpLogger{})
	require.NoError(t, err)

	samples := clickTrain(120, 20, 0)
	feed := func(fromHop, toHop int) {
		for hop := fromHop; hop < toHop; hop++ {
			require.NoError(t, engine.Process(samples[hop*256:(hop+1)*256]))
		}
	}

	feed(0, 1700)
	require.Equal(t, Tracking, engine.State())
	tempo := engine.Tempo()
	require.True(t, tempo.Determined())
	assert.Greater(t, engine.Confidence(), 0.0)

	engine.Reset()
	assert.Equal(t, WarmingUp, engine.State())
	assert.True(t, engine.Tempo().Determined())

	// Resumes within about one beat since history is kept
	hops := engine.Hops()
	feed(1700, 1900)
	assert.Equal(t, Tracking, engine.State())
	assert.Greater(t, engine.Hops(), hops)
}

func TestEngineRejectsOversizedBlock(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(DefaultConfig(), testSampleRate, &Collector{}, &logging.NoOpLogger{})
	require.NoError(t, err)
	assert.Error(t, engine.Process(make([]float64, 257)))
}

func TestEngineLogsTransitions(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	logger := logging.NewDefaultLoggerWithWriters(&out, &out)
	logger.SetLevel(logging.DebugLevel)

	sink := &Collector{}
	summary, err := Run(context.Background(), source.NewSlice(clickTrain(120, 10, 0), testSampleRate),
		DefaultConfig(), sink, logger)
	require.NoError(t, err)
	require.Equal(t, Tracking, summary.FinalState)

	log := out.String()
	assert.Contains(t, log, "[DEBUG] Tracker state changed")
	assert.Contains(t, log, "from=WARMING_UP")
	assert.Contains(t, log, "to=TRACKING")
	assert.Contains(t, log, "next_beat=")
	assert.NotContains(t, log, "next_beat=-1 ")
}
