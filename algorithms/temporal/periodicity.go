package temporal

import (
	"math"

	"github.com/RyanBlaney/sonido-tempo/algorithms/common"
	"github.com/RyanBlaney/sonido-tempo/algorithms/spectral"
)

// TempoEstimate is the current beat period estimate. The zero value is the
// "undetermined" estimate.
type TempoEstimate struct {
	PeriodHops float64 `json:"period_hops"`
	BPM        float64 `json:"bpm"`
	Score      float64 `json:"score"`
}

// Determined reports whether the estimate carries a tempo
func (t TempoEstimate) Determined() bool {
	return t.BPM > 0 && t.PeriodHops > 0
}

// PeriodicityConfig holds the tempo induction parameters
type PeriodicityConfig struct {
	HopsPerSecond     float64
	MinBPM            float64
	MaxBPM            float64
	MinHistoryHops    int
	UpdateInterval    int     // hops between re-estimations
	PriorCenterBPM    float64 // centre of the log-normal tempo prior
	PriorWidthOctaves float64 // standard deviation of the prior in octaves
	OctaveMargin      float64 // relative score margin for the octave tie-break
	OffbeatPenalty    float64
	Harmonics         int
	SmoothingAlpha    float64
	SwitchThreshold   float64 // relative BPM change treated as a new tempo
	SwitchPatience    int     // consecutive updates needed to accept a new tempo
}

// DefaultPeriodicityConfig returns the defaults for a given hop rate
func DefaultPeriodicityConfig(hopsPerSecond float64) PeriodicityConfig {
	return PeriodicityConfig{
		HopsPerSecond:     hopsPerSecond,
		MinBPM:            40,
		MaxBPM:            240,
		MinHistoryHops:    int(math.Ceil(2.0 * hopsPerSecond)),
		UpdateInterval:    8,
		PriorCenterBPM:    120,
		PriorWidthOctaves: 1.0,
		OctaveMargin:      0.10,
		OffbeatPenalty:    0.6,
		Harmonics:         4,
		SmoothingAlpha:    0.3,
		SwitchThreshold:   0.08,
		SwitchPatience:    3,
	}
}

// Periodicity re-estimates the dominant beat period from the onset history
// by scoring candidate periods against the history's autocorrelation.
type Periodicity struct {
	cfg      PeriodicityConfig
	acf      *spectral.Autocorrelation
	snapshot []float64
	scores   []float64

	current     TempoEstimate
	hopsPending int
	primed      bool
	disagree    int
}

// NewPeriodicity creates a new periodicity estimator
func NewPeriodicity(cfg PeriodicityConfig) *Periodicity {
	if cfg.UpdateInterval < 1 {
		cfg.UpdateInterval = 1
	}
	if cfg.Harmonics < 1 {
		cfg.Harmonics = 1
	}
	return &Periodicity{
		cfg: cfg,
		acf: spectral.NewAutocorrelation(),
	}
}

// Update is called once per hop. Until the history holds MinHistoryHops
// values it returns the undetermined estimate; afterwards it re-estimates
// every UpdateInterval hops and returns the smoothed estimate.
func (p *Periodicity) Update(history *common.Ring) TempoEstimate {
	if history.Len() < p.cfg.MinHistoryHops {
		return p.current
	}

	p.hopsPending++
	if p.primed && p.hopsPending < p.cfg.UpdateInterval {
		return p.current
	}
	p.hopsPending = 0
	p.primed = true

	p.snapshot = history.Snapshot(p.snapshot)
	p.smooth(p.Estimate(p.snapshot))
	return p.current
}

// Current returns the smoothed estimate without updating it
func (p *Periodicity) Current() TempoEstimate {
	return p.current
}

// Reset discards the smoothed estimate
func (p *Periodicity) Reset() {
	p.current = TempoEstimate{}
	p.hopsPending = 0
	p.primed = false
	p.disagree = 0
}

// Estimate analyses an onset-strength sequence (oldest first) and returns
// the unsmoothed best estimate.
func (p *Periodicity) Estimate(onsets []float64) TempoEstimate {
	n := len(onsets)
	usable := n * 2 / 3

	minLag := max(int(math.Floor(p.lagForBPM(p.cfg.MaxBPM))), 2)
	maxLag := min(int(math.Ceil(p.lagForBPM(p.cfg.MinBPM))), usable-1)
	if maxLag < minLag+2 {
		return TempoEstimate{}
	}

	r := p.acf.Compute(onsets, usable)
	if r == nil {
		return TempoEstimate{}
	}

	if cap(p.scores) < maxLag+2 {
		p.scores = make([]float64, maxLag+2)
	}
	scores := p.scores[:maxLag+2]
	for i := range scores {
		scores[i] = 0.0
	}
	for lag := minLag - 1; lag <= maxLag+1; lag++ {
		scores[lag] = p.score(r, float64(lag), usable)
	}

	best := minLag
	for lag := minLag; lag <= maxLag; lag++ {
		if scores[lag] > scores[best] {
			best = lag
		}
	}
	if scores[best] <= 0 {
		return TempoEstimate{}
	}

	best = p.octaveTieBreak(scores, best, minLag, maxLag)

	period := float64(best) + common.ParabolicPeak(scores[best-1], scores[best], scores[best+1])
	return TempoEstimate{
		PeriodHops: period,
		BPM:        p.bpmForLag(period),
		Score:      common.Clamp(scores[best], 0, 1),
	}
}

// score rates a candidate period: mean autocorrelation at its multiples,
// minus a penalty for strong periodicity at half and third subdivisions
// (which indicates the true beat is faster), weighted by the tempo prior.
func (p *Periodicity) score(r []float64, lag float64, usable int) float64 {
	on, off := 0.0, 0.0
	terms := 0
	for k := 1; k <= p.cfg.Harmonics; k++ {
		multiple := float64(k) * lag
		if multiple > float64(usable) {
			break
		}
		on += common.Interpolate(r, multiple)

		base := float64(k-1) * lag
		off += math.Max(common.Interpolate(r, base+lag/2),
			math.Max(common.Interpolate(r, base+lag/3), common.Interpolate(r, base+2*lag/3)))
		terms++
	}
	if terms == 0 {
		return 0.0
	}

	raw := (on - p.cfg.OffbeatPenalty*off) / float64(terms)
	return raw * p.prior(p.bpmForLag(lag))
}

// octaveTieBreak prefers the double or half period when its score is within
// OctaveMargin of the best and its tempo sits closer to the prior centre.
func (p *Periodicity) octaveTieBreak(scores []float64, best, minLag, maxLag int) int {
	chosen := best
	for _, target := range []int{best * 2, int(math.Round(float64(best) / 2))} {
		lo, hi := max(target-2, minLag), min(target+2, maxLag)
		if lo > hi {
			continue
		}
		candidate := lo
		for lag := lo; lag <= hi; lag++ {
			if scores[lag] > scores[candidate] {
				candidate = lag
			}
		}
		if scores[candidate] <= 0 {
			continue
		}
		if (scores[best]-scores[candidate])/scores[best] >= p.cfg.OctaveMargin {
			continue
		}
		if p.priorDistance(candidate) < p.priorDistance(chosen) {
			chosen = candidate
		}
	}
	return chosen
}

func (p *Periodicity) smooth(raw TempoEstimate) {
	alpha := p.cfg.SmoothingAlpha
	cur := &p.current

	if !raw.Determined() {
		cur.Score *= 1 - alpha
		if cur.Score < 1e-3 {
			p.current = TempoEstimate{}
		}
		p.disagree = 0
		return
	}

	if !cur.Determined() {
		p.current = raw
		p.disagree = 0
		return
	}

	if math.Abs(raw.BPM-cur.BPM)/cur.BPM > p.cfg.SwitchThreshold {
		p.disagree++
		cur.Score = alpha*raw.Score + (1-alpha)*cur.Score
		if p.disagree >= p.cfg.SwitchPatience {
			cur.BPM = raw.BPM
			cur.PeriodHops = raw.PeriodHops
			p.disagree = 0
		}
		return
	}

	p.disagree = 0
	cur.BPM = alpha*raw.BPM + (1-alpha)*cur.BPM
	cur.PeriodHops = p.lagForBPM(cur.BPM)
	cur.Score = alpha*raw.Score + (1-alpha)*cur.Score
}

// prior is a log-normal weight centred on PriorCenterBPM
func (p *Periodicity) prior(bpm float64) float64 {
	if bpm <= 0 || p.cfg.PriorWidthOctaves <= 0 {
		return 1.0
	}
	z := math.Log2(bpm/p.cfg.PriorCenterBPM) / p.cfg.PriorWidthOctaves
	return math.Exp(-0.5 * z * z)
}

func (p *Periodicity) priorDistance(lag int) float64 {
	return math.Abs(math.Log2(p.bpmForLag(float64(lag)) / p.cfg.PriorCenterBPM))
}

func (p *Periodicity) lagForBPM(bpm float64) float64 {
	return 60.0 * p.cfg.HopsPerSecond / bpm
}

func (p *Periodicity) bpmForLag(lag float64) float64 {
	return 60.0 * p.cfg.HopsPerSecond / lag
}
