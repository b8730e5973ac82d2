package regression

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/record"
	"github.com/USGS-R/EGRETci/internal/testkit"
)

var trueBeta = []float64{0.5, -0.05, 0.4, 0.3, -0.2}

const trueSigma = 0.2

// syntheticRecord draws samples every few days from a known model
func syntheticRecord(t *testing.T, every int, censorAt float64) (*record.Table, []record.Sample, *Estimator) {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))

	// Log-normal flow independent of season keeps the terms well separated
	days := make([]record.Daily, 1461)
	start := core.NewDay(2004, time.October, 1)
	for i := range days {
		days[i] = testkit.NewDaily(start.AddDate(0, 0, i), math.Exp(3+0.8*rng.NormFloat64()), 1, 0)
	}
	spine := &record.Table{Days: days}

	e, err := NewEstimator(spine, []record.Sample{{Date: spine.Start(), Value: 1}}, DefaultConfig())
	require.NoError(t, err)
	x := make([]float64, nTerms)
	var samples []record.Sample
	for i := 0; i < spine.Len(); i += every {
		d := spine.Days[i]
		e.row(x, d.DecYear, d.Discharge)
		mu := 0.0
		for k := range x {
			mu += x[k] * trueBeta[k]
		}
		v := math.Exp(mu + trueSigma*rng.NormFloat64())
		s := record.Sample{Date: d.Date, Value: v}
		if v < censorAt {
			s.Value = censorAt
			s.Censored = true
		}
		samples = append(samples, s)
	}

	e, err = NewEstimator(spine, samples, DefaultConfig())
	require.NoError(t, err)
	return spine, e.Samples(), e
}

func TestFit_RecoversKnownModel(t *testing.T) {
	spine, _, e := syntheticRecord(t, 5, 0)

	coef, err := e.Coefficients(context.Background(), e.Samples())
	require.NoError(t, err)
	for k, b := range trueBeta {
		assert.InDelta(t, b, coef.Beta[k], 0.05, "coefficient %d", k)
	}
	assert.InDelta(t, trueSigma, coef.Sigma, 0.02)
	assert.Equal(t, 0, coef.NCensor)

	fit, err := e.Baseline(context.Background())
	require.NoError(t, err)
	require.NoError(t, spine.AlignedWith(fit))
	require.NoError(t, fit.Validate())
	for _, d := range fit.Days {
		assert.GreaterOrEqual(t, d.SE, coef.Sigma)
		assert.InDelta(t, math.Exp(d.YHat+d.SE*d.SE/2), d.ConcDay, 1e-9)
		assert.InDelta(t, record.Flux(d.ConcDay, d.Discharge), d.FluxDay, 1e-9)
	}
}

func TestFit_CensoredSamplesAreNotSubstituted(t *testing.T) {
	// Censor roughly the lower third of the record
	_, samples, e := syntheticRecord(t, 5, 1.4)
	nCensored := 0
	for _, s := range samples {
		if s.Censored {
			nCensored++
		}
	}
	require.Greater(t, nCensored, len(samples)/10)

	coef, err := e.Coefficients(context.Background(), samples)
	require.NoError(t, err)
	assert.Equal(t, nCensored, coef.NCensor)
	assert.InDelta(t, trueBeta[0], coef.Beta[0], 0.08)
	assert.InDelta(t, trueSigma, coef.Sigma, 0.04)

	// Treating reporting limits as values biases the intercept upwards
	naive := make([]record.Sample, len(samples))
	copy(naive, samples)
	for i := range naive {
		naive[i].Censored = false
	}
	naiveCoef, err := e.Coefficients(context.Background(), naive)
	require.NoError(t, err)
	assert.Greater(t, math.Abs(naiveCoef.Beta[0]-trueBeta[0]), math.Abs(coef.Beta[0]-trueBeta[0]))
}

func TestFit_DegenerateResamples(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2010, time.January, 1), 400, 10, 1, 0)
	e, err := NewEstimator(spine, []record.Sample{{Date: spine.Start(), Value: 1}}, DefaultConfig())
	require.NoError(t, err)

	few := testkit.SamplesAt(spine, 1, 1, 2, 3)
	_, err = e.Fit(context.Background(), few)
	assert.ErrorIs(t, err, core.ErrDegenerateSample)

	// Enough samples but all the same value
	rows := make([]int, 40)
	for i := range rows {
		rows[i] = i * 9
	}
	_, err = e.Fit(context.Background(), testkit.SamplesAt(spine, 2, rows...))
	assert.ErrorIs(t, err, core.ErrDegenerateSample)

	// Distinct values on a single day cannot separate time, flow and season
	same := make([]record.Sample, 30)
	for i := range same {
		same[i] = record.Sample{Date: spine.Start(), Value: float64(i + 1), Discharge: 10}
	}
	_, err = e.Fit(context.Background(), same)
	assert.ErrorIs(t, err, core.ErrSingularDesign)
	assert.ErrorIs(t, err, core.ErrDegenerateSample)
}

func TestFit_Cancelled(t *testing.T) {
	_, samples, e := syntheticRecord(t, 7, 1.4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Fit(ctx, samples)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEstimator_FillsSampleDischarge(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2010, time.January, 1), 10, 12.5, 1, 0)
	e, err := NewEstimator(spine, []record.Sample{{Date: spine.Days[3].Date.Add(5 * time.Hour), Value: 2}}, DefaultConfig())
	require.NoError(t, err)
	s := e.Samples()[0]
	assert.Equal(t, 12.5, s.Discharge)
	assert.Equal(t, spine.Days[3].Date, s.Date)
	assert.InDelta(t, core.DecimalYear(spine.Days[3].Date), s.DecYear, 1e-12)

	_, err = NewEstimator(spine, nil, DefaultConfig())
	assert.Error(t, err)
}

func TestMillsBelow(t *testing.T) {
	assert.InDelta(t, 0.7978845608, millsBelow(0), 1e-9)
	assert.InDelta(t, 40, millsBelow(-40), 0.1)
}
