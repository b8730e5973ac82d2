package app

import (
	"context"
	stderrors "errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/interval"
	"github.com/USGS-R/EGRETci/domain/record"
	"github.com/USGS-R/EGRETci/internal/config"
	"github.com/USGS-R/EGRETci/internal/errors"
	"github.com/USGS-R/EGRETci/internal/temporal"
	"github.com/USGS-R/EGRETci/internal/testkit"
	"github.com/USGS-R/EGRETci/ports"
)

func newService(t *testing.T, kit *testkit.TestKit, cfg config.EnsembleConfig, est *testkit.FakeEstimator, withStore bool) *IntervalService {
	t.Helper()
	deps := IntervalServiceDeps{
		Estimator: est,
		RNG:       kit.RNGAdapter(),
		Metrics:   kit.Metrics(),
	}
	if withStore {
		deps.Store = kit.ReplicateStore()
	}
	svc, err := NewIntervalService(cfg, deps)
	require.NoError(t, err)
	return svc
}

// generatedRun builds a two-year record with censored samples and runs it
func generatedRun(t *testing.T, nBoot, nKalman int) *Session {
	t.Helper()
	gen := testkit.DefaultRecordConfig()
	gen.DetectionLimit = 1.5
	spine, samples := testkit.NewRecordGenerator(gen).Generate()

	kit := testkit.NewTestKit(21)
	cfg := kit.EnsembleConfig(nBoot, nKalman, 0.9)
	cfg.AnnualStartMonth = 10
	cfg.BlockLength = 60
	svc := newService(t, kit, cfg, testkit.NewFakeEstimator(spine), false)

	session, err := svc.Run(context.Background(), spine, samples)
	require.NoError(t, err)
	return session
}

func views(t *testing.T, s *Session, v interval.Variable) map[temporal.Resolution]*interval.View {
	t.Helper()
	ctx := context.Background()
	out := make(map[temporal.Resolution]*interval.View)
	var err error
	out[temporal.ResolutionDaily], err = s.DailyPI(ctx, v)
	require.NoError(t, err)
	out[temporal.ResolutionMonthly], err = s.MonthlyPI(ctx, v)
	require.NoError(t, err)
	out[temporal.ResolutionAnnual], err = s.AnnualPI(ctx, v)
	require.NoError(t, err)
	out[temporal.ResolutionCumulative], err = s.CumulativePI(ctx, v)
	require.NoError(t, err)
	return out
}

// ============================================================================
// TEST: end-to-end
// ============================================================================

func TestRun_TenDayConstantFlux(t *testing.T) {
	// Q = 1 m³/s and C = 100/86.4 mg/L give a flux of 100 kg/day
	const q = 1.0
	conc := 100 / (q * record.FluxFactor)
	spine := testkit.ConstantSpine(core.NewDay(2015, time.June, 1), 10, q, conc, 0.02)

	// No observations: every trace is unconditioned
	kit := testkit.NewTestKit(376168)
	svc := newService(t, kit, kit.EnsembleConfig(10, 10, 0.9), testkit.NewFakeEstimator(spine), false)
	session, err := svc.Run(context.Background(), spine, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, session.Report().Effective)

	rows, cols := session.Matrix().Dims()
	assert.Equal(t, 10, rows)
	assert.Equal(t, 100, cols)

	daily, err := session.DailyPI(context.Background(), interval.VariableFlux)
	require.NoError(t, err)
	require.Equal(t, 10, daily.Len())
	for _, r := range daily.Results {
		assert.InDelta(t, 100, r.Mid(), 2, r.Key)
		assert.Greater(t, r.Width(), 0.0, "unobserved days keep their spread: %s", r.Key)
	}

	cum, err := session.CumulativePI(context.Background(), interval.VariableFlux)
	require.NoError(t, err)
	assert.InEpsilon(t, 1000, cum.Results[9].Mid(), 0.02)
	assert.InDelta(t, 1000, cum.Deterministic[9].Value, 1e-9)
	assert.Equal(t, "2015-06-10", cum.Results[9].Key)
}

func TestRun_DiscardAccounting(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2015, time.June, 1), 40, 3, 2, 0.3)
	samples := testkit.SamplesAt(spine, 2.2, 3, 17, 30)
	est := testkit.NewFakeEstimator(spine)
	est.FailFirst = 2

	kit := testkit.NewTestKit(5)
	svc := newService(t, kit, kit.EnsembleConfig(10, 6, 0.9), est, false)
	session, err := svc.Run(context.Background(), spine, samples)
	require.NoError(t, err)

	report := session.Report()
	assert.Equal(t, 2, report.Discarded)
	assert.Equal(t, 8, report.Effective)
	assert.Equal(t, 8*6, session.Matrix().Replicates())

	summary, err := session.Summary()
	require.NoError(t, err)
	assert.Equal(t, 48, summary.Replicates)
	assert.Equal(t, 48, summary.TotalFlux.N)
	assert.Equal(t, 2, summary.Report.Discarded)
}

// ============================================================================
// TEST: interval properties
// ============================================================================

func TestViews_QuantilesAreMonotone(t *testing.T) {
	session := generatedRun(t, 8, 5)
	for _, v := range []interval.Variable{interval.VariableConc, interval.VariableFlux} {
		for res, view := range views(t, session, v) {
			require.NotEmpty(t, view.Results, res)
			require.Equal(t, len(view.Results), len(view.Deterministic), res)
			for i, r := range view.Results {
				assert.Equal(t, r.Key, view.Deterministic[i].Key)
				for k := 1; k < len(r.Quantiles); k++ {
					assert.LessOrEqual(t, r.Quantiles[k-1], r.Quantiles[k], "%s %s %s", v, res, r.Key)
				}
			}
		}
	}
}

func TestViews_BucketCounts(t *testing.T) {
	session := generatedRun(t, 3, 2)
	all := views(t, session, interval.VariableConc)

	// 2004-10-01 .. 2006-09-30 is exactly water years 2005 and 2006
	assert.Equal(t, 730, all[temporal.ResolutionDaily].Len())
	assert.Equal(t, 730, all[temporal.ResolutionCumulative].Len())
	assert.Equal(t, 24, all[temporal.ResolutionMonthly].Len())
	annual := all[temporal.ResolutionAnnual]
	require.Equal(t, 2, annual.Len())
	assert.Equal(t, "WY2005", annual.Results[0].Key)
	assert.Equal(t, "WY2006", annual.Results[1].Key)
}

func TestViews_CumulativeIsNonDecreasing(t *testing.T) {
	session := generatedRun(t, 6, 4)
	cum, err := session.CumulativePI(context.Background(), interval.VariableFlux)
	require.NoError(t, err)
	for i := 1; i < cum.Len(); i++ {
		for k := range cum.Probabilities {
			assert.GreaterOrEqual(t, cum.Results[i].Quantiles[k], cum.Results[i-1].Quantiles[k])
		}
		assert.GreaterOrEqual(t, cum.Deterministic[i].Value, cum.Deterministic[i-1].Value)
	}
}

func TestViews_ObservedDaysHaveZeroWidth(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2015, time.January, 1), 30, 4, 10, 0.5)
	samples := testkit.SamplesAt(spine, 7.5, 4, 12, 25)
	samples = append(samples, testkit.CensoredAt(spine, 3, 20)...)

	kit := testkit.NewTestKit(31)
	svc := newService(t, kit, kit.EnsembleConfig(5, 8, 0.9), testkit.NewFakeEstimator(spine), false)
	session, err := svc.Run(context.Background(), spine, samples)
	require.NoError(t, err)

	conc, err := session.DailyPI(context.Background(), interval.VariableConc)
	require.NoError(t, err)
	flux, err := session.DailyPI(context.Background(), interval.VariableFlux)
	require.NoError(t, err)
	for _, row := range []int{4, 12, 25} {
		assert.Equal(t, 0.0, conc.Results[row].Width())
		assert.Equal(t, 7.5, conc.Results[row].Mid())
		assert.Equal(t, record.Flux(7.5, 4), flux.Results[row].Mid())
	}
	assert.LessOrEqual(t, conc.Results[20].High(), 3.0)
	assert.Greater(t, conc.Results[20].Width(), 0.0)
	assert.Greater(t, conc.Results[8].Width(), 0.0)
}

func TestViews_RhoSensitivity(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2015, time.January, 1), 61, 2, 10, 0.5)
	rows := make([]int, 0, 31)
	for r := 0; r < spine.Len(); r += 2 {
		rows = append(rows, r)
	}
	samples := testkit.SamplesAt(spine, 10, rows...)

	meanGapWidth := func(rho float64) float64 {
		kit := testkit.NewTestKit(99)
		svc := newService(t, kit, kit.EnsembleConfig(10, 20, rho), testkit.NewFakeEstimator(spine), false)
		session, err := svc.Run(context.Background(), spine, samples)
		require.NoError(t, err)
		daily, err := session.DailyPI(context.Background(), interval.VariableConc)
		require.NoError(t, err)
		sum := 0.0
		for r := 1; r < spine.Len(); r += 2 {
			sum += daily.Results[r].Width()
		}
		return sum / float64(spine.Len()/2)
	}

	independent := meanGapWidth(0)
	correlated := meanGapWidth(0.9)
	assert.Less(t, correlated, independent/2,
		"days between daily observations must tighten as rho grows: rho=0 %.3f, rho=0.9 %.3f", independent, correlated)
}

func TestSummary_TotalFluxVarianceFallsWithRho(t *testing.T) {
	// Observations every other day. With sparse observations a strongly
	// correlated residual wanders further than an independent one, so the
	// ordering only holds when gaps are short.
	spine := testkit.ConstantSpine(core.NewDay(2015, time.January, 1), 61, 2, 10, 0.5)
	rows := make([]int, 0, 31)
	for r := 0; r < spine.Len(); r += 2 {
		rows = append(rows, r)
	}
	samples := testkit.SamplesAt(spine, 10, rows...)

	totalVariance := func(rho float64) float64 {
		kit := testkit.NewTestKit(99)
		svc := newService(t, kit, kit.EnsembleConfig(10, 20, rho), testkit.NewFakeEstimator(spine), false)
		session, err := svc.Run(context.Background(), spine, samples)
		require.NoError(t, err)

		summary, err := session.Summary()
		require.NoError(t, err)
		cum, err := session.CumulativePI(context.Background(), interval.VariableFlux)
		require.NoError(t, err)
		last := cum.Results[len(cum.Results)-1]
		assert.LessOrEqual(t, last.Low(), summary.TotalFlux.Median)
		assert.GreaterOrEqual(t, last.High(), summary.TotalFlux.Median)
		return summary.TotalFlux.StdDev * summary.TotalFlux.StdDev
	}

	independent := totalVariance(0)
	correlated := totalVariance(0.9)
	assert.Greater(t, independent, 0.0)
	assert.LessOrEqual(t, correlated, independent,
		"final-day cumulative flux variance must not grow with rho: rho=0 %.4g, rho=0.9 %.4g", independent, correlated)
}

func TestViews_MonthlyDeterministicIsMeanDailyRate(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2015, time.January, 20), 20, 2, 5, 0.2)
	kit := testkit.NewTestKit(3)
	svc := newService(t, kit, kit.EnsembleConfig(2, 2, 0.9), testkit.NewFakeEstimator(spine), false)
	session, err := svc.Run(context.Background(), spine, testkit.SamplesAt(spine, 5, 0))
	require.NoError(t, err)

	monthly, err := session.MonthlyPI(context.Background(), interval.VariableFlux)
	require.NoError(t, err)
	require.Equal(t, 2, monthly.Len())
	for _, p := range monthly.Deterministic {
		assert.InDelta(t, record.Flux(5, 2), p.Value, 1e-9)
	}
	assert.Equal(t, []float64{0.05, 0.5, 0.95}, monthly.Probabilities)
	assert.Equal(t, string(temporal.ResolutionMonthly), monthly.Resolution)
}

// ============================================================================
// TEST: lifecycle
// ============================================================================

func TestSession_PersistAndLoad(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2015, time.March, 1), 45, 2, 5, 0.3)
	samples := testkit.SamplesAt(spine, 6, 5, 20, 40)

	kit := testkit.NewTestKit(8)
	cfg := kit.EnsembleConfig(4, 3, 0.9)
	svc := newService(t, kit, cfg, testkit.NewFakeEstimator(spine), true)
	session, err := svc.Run(context.Background(), spine, samples)
	require.NoError(t, err)
	want, err := session.MonthlyPI(context.Background(), interval.VariableFlux)
	require.NoError(t, err)

	// A second service sharing the store rebuilds the session from replicates
	other := newService(t, kit, cfg, testkit.NewFakeEstimator(spine), true)
	loaded, err := other.Load(context.Background(), session.ID)
	require.NoError(t, err)
	got, err := loaded.MonthlyPI(context.Background(), interval.VariableFlux)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, session.Report().Effective, loaded.Report().Effective)

	infos, err := other.Sessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, session.ID, infos[0].ID)
	assert.Equal(t, 45, infos[0].Days)
}

func TestReadOnlyService(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2015, time.March, 1), 20, 2, 5, 0.3)
	kit := testkit.NewTestKit(8)
	cfg := kit.EnsembleConfig(3, 2, 0.9)
	writer := newService(t, kit, cfg, testkit.NewFakeEstimator(spine), true)
	session, err := writer.Run(context.Background(), spine, testkit.SamplesAt(spine, 6, 3))
	require.NoError(t, err)

	reader, err := NewReadOnlyIntervalService(cfg, kit.ReplicateStore(), nil, nil)
	require.NoError(t, err)
	loaded, err := reader.Load(context.Background(), session.ID)
	require.NoError(t, err)
	_, err = loaded.CumulativePI(context.Background(), interval.VariableFlux)
	assert.NoError(t, err)

	_, err = reader.Run(context.Background(), spine, nil)
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))

	_, err = NewReadOnlyIntervalService(cfg, nil, nil, nil)
	assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))
}

type failingStore struct {
	*testkit.InMemoryReplicateStore
}

func (failingStore) Save(ctx context.Context, snap *ports.ReplicateSnapshot) error {
	return stderrors.New("disk full")
}

func TestRun_FailedPersistLeavesNoSession(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2015, time.March, 1), 15, 2, 5, 0.3)
	kit := testkit.NewTestKit(8)
	svc, err := NewIntervalService(kit.EnsembleConfig(3, 2, 0.9), IntervalServiceDeps{
		Estimator: testkit.NewFakeEstimator(spine),
		RNG:       kit.RNGAdapter(),
		Store:     failingStore{testkit.NewInMemoryReplicateStore()},
	})
	require.NoError(t, err)

	session, err := svc.Run(context.Background(), spine, testkit.SamplesAt(spine, 5, 4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Nil(t, session)

	svc.mu.RLock()
	registered := len(svc.sessions)
	svc.mu.RUnlock()
	assert.Zero(t, registered)
}

func TestLoad_UnknownSession(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2015, time.March, 1), 5, 2, 5, 0.3)
	kit := testkit.NewTestKit(8)

	for _, withStore := range []bool{false, true} {
		svc := newService(t, kit, kit.EnsembleConfig(2, 2, 0.9), testkit.NewFakeEstimator(spine), withStore)
		_, err := svc.Load(context.Background(), core.NewSessionID())
		assert.True(t, errors.HasCode(err, errors.CodeNotFound))
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
	}
}

func TestSession_Release(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2015, time.March, 1), 10, 2, 5, 0.3)
	kit := testkit.NewTestKit(8)
	svc := newService(t, kit, kit.EnsembleConfig(2, 2, 0.9), testkit.NewFakeEstimator(spine), false)
	session, err := svc.Run(context.Background(), spine, testkit.SamplesAt(spine, 5, 1))
	require.NoError(t, err)

	svc.Close(session.ID)
	assert.True(t, session.Released())
	assert.Nil(t, session.Matrix())

	_, err = session.DailyPI(context.Background(), interval.VariableConc)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
	_, err = session.Summary()
	assert.Error(t, err)
	assert.Error(t, session.Persist(context.Background(), kit.ReplicateStore()))
}

func TestSession_UnknownVariable(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2015, time.March, 1), 10, 2, 5, 0.3)
	kit := testkit.NewTestKit(8)
	svc := newService(t, kit, kit.EnsembleConfig(2, 2, 0.9), testkit.NewFakeEstimator(spine), false)
	session, err := svc.Run(context.Background(), spine, testkit.SamplesAt(spine, 5, 1))
	require.NoError(t, err)

	_, err = session.View(context.Background(), temporal.ResolutionDaily, "load")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestNewIntervalService_ConfigurationErrors(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2015, time.March, 1), 10, 2, 5, 0.3)
	kit := testkit.NewTestKit(8)

	bad := []func(*config.EnsembleConfig){
		func(c *config.EnsembleConfig) { c.Rho = 1 },
		func(c *config.EnsembleConfig) { c.NKalman = 0 },
		func(c *config.EnsembleConfig) { c.Probabilities = []float64{0.5, 0.5} },
		func(c *config.EnsembleConfig) { c.AnnualStartMonth = 0 },
	}
	for i, mutate := range bad {
		cfg := kit.EnsembleConfig(2, 2, 0.9)
		mutate(&cfg)
		_, err := NewIntervalService(cfg, IntervalServiceDeps{Estimator: testkit.NewFakeEstimator(spine), RNG: kit.RNGAdapter()})
		assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid), "case %d: %v", i, err)
	}
}

func TestSummary_TotalFlux(t *testing.T) {
	spine := testkit.ConstantSpine(core.NewDay(2015, time.March, 1), 20, 2, 5, 0.1)
	kit := testkit.NewTestKit(8)
	svc := newService(t, kit, kit.EnsembleConfig(4, 5, 0.9), testkit.NewFakeEstimator(spine), false)
	session, err := svc.Run(context.Background(), spine, testkit.SamplesAt(spine, 5, 0))
	require.NoError(t, err)

	summary, err := session.Summary()
	require.NoError(t, err)
	assert.InDelta(t, 20*record.Flux(5, 2), summary.TotalFluxModel, 1e-6)
	assert.InEpsilon(t, summary.TotalFluxModel, summary.TotalFlux.Mean, 0.1)
	assert.False(t, math.IsNaN(summary.TotalFlux.StdDev))
	assert.Equal(t, 20, summary.Days)
}
