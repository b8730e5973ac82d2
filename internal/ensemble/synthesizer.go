package ensemble

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/USGS-R/EGRETci/domain/record"
	"github.com/USGS-R/EGRETci/internal/errors"
)

// Anchor is a day whose trace value is fixed or bounded by a field observation
type Anchor struct {
	Row      int
	Censored bool
	Value    float64 // observed concentration, or the reporting limit when censored
}

// AnchorsFrom lists the observed days of spine in date order
func AnchorsFrom(spine *record.Table) []Anchor {
	rows := spine.Observations()
	anchors := make([]Anchor, 0, len(rows))
	for _, row := range rows {
		d := spine.Days[row]
		anchors = append(anchors, Anchor{Row: row, Censored: d.Censored, Value: d.ObservedValue})
	}
	return anchors
}

// TraceSynthesizer generates stochastic daily concentration traces around a
// fitted model. The standardized log residual follows a unit-variance AR(1)
// process with lag-one correlation rho, conditioned on the observations:
// uncensored days are hit exactly, censored days are drawn below their
// reporting limit.
type TraceSynthesizer struct {
	rho   float64
	innov float64 // sqrt(1 - rho^2)
}

// NewTraceSynthesizer creates a synthesizer; rho must be in [0,1)
func NewTraceSynthesizer(rho float64) (*TraceSynthesizer, error) {
	if math.IsNaN(rho) || rho < 0 || rho >= 1 {
		return nil, errors.ConfigInvalidf("rho must be in [0,1), got %v", rho)
	}
	return &TraceSynthesizer{rho: rho, innov: math.Sqrt(1 - rho*rho)}, nil
}

// Rho returns the lag-one correlation
func (s *TraceSynthesizer) Rho() float64 {
	return s.rho
}

// Synthesize writes one trace into conc and flux. fit supplies YHat/SE/ConcDay
// per day; z is scratch space. All three slices must have fit.Len() entries.
func (s *TraceSynthesizer) Synthesize(rng *rand.Rand, fit *record.Table, anchors []Anchor, z, conc, flux []float64) {
	n := fit.Len()
	days := fit.Days

	// Anchors only constrain the residual process on days where the model has
	// spread; elsewhere the value is ConcDay or the pinned observation.
	pinned := make([]int, 0, len(anchors))
	active := make([]int, 0, len(anchors))
	for i, a := range anchors {
		if a.Row < 0 || a.Row >= n || a.Value <= 0 {
			continue
		}
		if !a.Censored {
			pinned = append(pinned, i)
		}
		if hasSpread(days[a.Row]) {
			active = append(active, i)
		}
	}

	// Residual values at the active anchors, in date order
	prevRow := -1
	prevZ := 0.0
	for _, i := range active {
		a := anchors[i]
		d := days[a.Row]
		limit := standardize(a.Value, d)
		if !a.Censored {
			z[a.Row] = limit
		} else if prevRow < 0 {
			z[a.Row] = truncatedAbove(rng, 0, 1, limit)
		} else {
			k := float64(a.Row - prevRow)
			rk := math.Pow(s.rho, k)
			z[a.Row] = truncatedAbove(rng, rk*prevZ, math.Sqrt(1-rk*rk), limit)
		}
		prevRow, prevZ = a.Row, z[a.Row]
	}

	if len(active) == 0 {
		z[0] = rng.NormFloat64()
		s.forward(rng, z, 0, n-1)
	} else {
		first := anchors[active[0]].Row
		for t := first - 1; t >= 0; t-- {
			z[t] = s.rho*z[t+1] + s.innov*rng.NormFloat64()
		}
		for j := 1; j < len(active); j++ {
			s.bridge(rng, z, anchors[active[j-1]].Row, anchors[active[j]].Row)
		}
		s.forward(rng, z, anchors[active[len(active)-1]].Row, n-1)
	}

	for t, d := range days {
		if hasSpread(d) {
			conc[t] = d.ConcDay * math.Exp(d.SE*z[t]-d.SE*d.SE/2)
		} else {
			conc[t] = d.ConcDay
		}
	}
	for _, a := range anchors {
		if a.Censored && a.Row >= 0 && a.Row < n && a.Value > 0 {
			conc[a.Row] = math.Min(conc[a.Row], a.Value)
		}
	}
	for _, i := range pinned {
		conc[anchors[i].Row] = anchors[i].Value
	}
	for t, d := range days {
		flux[t] = record.Flux(conc[t], d.Discharge)
	}
}

// forward continues the chain from z[from] through z[to]
func (s *TraceSynthesizer) forward(rng *rand.Rand, z []float64, from, to int) {
	for t := from + 1; t <= to; t++ {
		z[t] = s.rho*z[t-1] + s.innov*rng.NormFloat64()
	}
}

// bridge fills the days strictly between anchors a and b with a draw from the
// AR(1) process conditioned on both end values. It simulates forward from
// z[a] and then corrects by the kriging weight
// Cov(x_t, x_b | x_a) / Var(x_b | x_a) applied to the miss at b.
func (s *TraceSynthesizer) bridge(rng *rand.Rand, z []float64, a, b int) {
	gap := b - a
	if gap < 2 {
		return
	}
	target := z[b]
	x := z[a]
	for t := a + 1; t <= b; t++ {
		x = s.rho*x + s.innov*rng.NormFloat64()
		z[t] = x
	}
	miss := target - z[b]
	rGap := math.Pow(s.rho, float64(gap))
	denom := 1 - rGap*rGap
	for t := a + 1; t < b; t++ {
		w := (math.Pow(s.rho, float64(b-t)) - math.Pow(s.rho, float64(t-a))*rGap) / denom
		z[t] += w * miss
	}
	z[b] = target
}

// hasSpread reports whether the day's residual can move the trace
func hasSpread(d record.Daily) bool {
	return d.SE > 0 && d.ConcDay > 0 && !math.IsInf(d.SE, 0)
}

// standardize maps a concentration onto the residual scale of day d
func standardize(value float64, d record.Daily) float64 {
	return (math.Log(value/d.ConcDay) + d.SE*d.SE/2) / d.SE
}

// truncatedAbove draws from N(mu, sigma²) restricted to (-Inf, limit] by
// inverting the normal CDF on the admissible probability mass.
func truncatedAbove(rng *rand.Rand, mu, sigma, limit float64) float64 {
	p := distuv.UnitNormal.CDF((limit - mu) / sigma)
	if p <= 0 {
		return limit
	}
	u := rng.Float64() * p
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	return math.Min(mu+sigma*distuv.UnitNormal.Quantile(u), limit)
}
