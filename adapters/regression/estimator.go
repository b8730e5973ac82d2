// Package regression is a reference concentration model: a log-linear
// regression on time, discharge and season, fitted with censored values
// handled by expectation-maximization.
package regression

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/record"
	"github.com/USGS-R/EGRETci/internal/errors"
	"github.com/USGS-R/EGRETci/ports"
)

// nTerms is the number of model coefficients:
// ln C = b0 + b1·(t−t0) + b2·(ln Q − lq0) + b3·sin 2πt + b4·cos 2πt
// where t0 and lq0 center time and log discharge on the daily record.
const nTerms = 5

// minDischarge floors discharge before taking logs so zero-flow days stay finite
const minDischarge = 1e-3

// Config controls fitting
type Config struct {
	MinObs        int     // fewer samples than this is a degenerate resample
	MinUncensored int     // fewer distinct uncensored values is degenerate
	MaxIter       int     // EM iterations for censored samples
	Tol           float64 // EM convergence on the coefficients
	MaxCond       float64 // design condition number above which the fit is singular
}

// DefaultConfig returns the default fitting configuration
func DefaultConfig() Config {
	return Config{
		MinObs:        20,
		MinUncensored: 10,
		MaxIter:       100,
		Tol:           1e-8,
		MaxCond:       1e10,
	}
}

// Estimator fits the regression to calibration samples and evaluates it on
// every day of a fixed daily record
type Estimator struct {
	cfg     Config
	days    []record.Daily
	samples []record.Sample
	t0      float64
	lq0     float64
}

// Coefficients is one fitted model
type Coefficients struct {
	Beta    []float64
	Sigma   float64
	XtXInv  *mat.SymDense
	N       int
	NCensor int
	Iter    int
}

var _ ports.EstimatorPort = (*Estimator)(nil)

// NewEstimator creates an estimator over spine. Sample discharge and decimal
// year are filled from spine when missing.
func NewEstimator(spine *record.Table, samples []record.Sample, cfg Config) (*Estimator, error) {
	if spine == nil {
		return nil, errors.InvalidInput("daily record is required")
	}
	if err := spine.Validate(); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	if len(samples) == 0 {
		return nil, errors.InvalidInput("at least one calibration sample is required")
	}
	if cfg.MinObs < nTerms+1 {
		cfg.MinObs = nTerms + 1
	}

	filled := make([]record.Sample, len(samples))
	for i, s := range samples {
		s.Date = core.Day(s.Date)
		if s.DecYear == 0 {
			s.DecYear = core.DecimalYear(s.Date)
		}
		if s.Discharge <= 0 {
			if row := spine.Index(s.Date); row >= 0 {
				s.Discharge = spine.Days[row].Discharge
			}
		}
		filled[i] = s
	}
	record.SortSamples(filled)

	days := make([]record.Daily, spine.Len())
	for i, d := range spine.Days {
		days[i] = record.Daily{Date: d.Date, DecYear: d.DecYear, Discharge: d.Discharge}
		if days[i].DecYear == 0 {
			days[i].DecYear = core.DecimalYear(d.Date)
		}
	}

	lq0 := 0.0
	for _, d := range days {
		lq0 += logDischarge(d.Discharge)
	}

	return &Estimator{
		cfg:     cfg,
		days:    days,
		samples: filled,
		t0:      (days[0].DecYear + days[len(days)-1].DecYear) / 2,
		lq0:     lq0 / float64(len(days)),
	}, nil
}

// Samples returns the calibration samples with discharge filled in
func (e *Estimator) Samples() []record.Sample {
	return append([]record.Sample(nil), e.samples...)
}

// Baseline fits the original calibration samples
func (e *Estimator) Baseline(ctx context.Context) (*record.Table, error) {
	return e.Fit(ctx, e.samples)
}

// Fit fits samples and evaluates the model on every day of the record
func (e *Estimator) Fit(ctx context.Context, samples []record.Sample) (*record.Table, error) {
	coef, err := e.Coefficients(ctx, samples)
	if err != nil {
		return nil, err
	}

	out := make([]record.Daily, len(e.days))
	x := make([]float64, nTerms)
	xv := mat.NewVecDense(nTerms, x)
	for i, d := range e.days {
		e.row(x, d.DecYear, d.Discharge)
		yHat := floats.Dot(x, coef.Beta)
		leverage := mat.Inner(xv, coef.XtXInv, xv)
		se := coef.Sigma * math.Sqrt(1+leverage)
		conc := math.Exp(yHat + se*se/2)

		out[i] = d
		out[i].YHat = yHat
		out[i].SE = se
		out[i].ConcDay = conc
		out[i].FluxDay = record.Flux(conc, d.Discharge)
	}
	return &record.Table{Days: out}, nil
}

// Coefficients fits the model to samples
func (e *Estimator) Coefficients(ctx context.Context, samples []record.Sample) (*Coefficients, error) {
	n := len(samples)
	if n < e.cfg.MinObs {
		return nil, core.NewDegenerateError(fmt.Sprintf("%d samples, need %d", n, e.cfg.MinObs))
	}
	distinct := make(map[float64]struct{})
	nCensor := 0
	for _, s := range samples {
		if s.Value <= 0 || math.IsNaN(s.Value) {
			return nil, fmt.Errorf("%w: sample on %s has non-positive value %v", core.ErrEstimationFailed, core.DayKey(s.Date), s.Value)
		}
		if s.Censored {
			nCensor++
			continue
		}
		distinct[s.Value] = struct{}{}
	}
	if len(distinct) < e.cfg.MinUncensored {
		return nil, core.NewDegenerateError(fmt.Sprintf("%d distinct uncensored values, need %d", len(distinct), e.cfg.MinUncensored))
	}

	X := mat.NewDense(n, nTerms, nil)
	y := make([]float64, n)   // working response
	lim := make([]float64, n) // log reporting limit, censored rows only
	for i, s := range samples {
		decYear, discharge := e.covariates(s)
		e.row(X.RawRowView(i), decYear, discharge)
		y[i] = math.Log(s.Value)
		lim[i] = y[i]
	}

	var qr mat.QR
	qr.Factorize(X)
	if c := qr.Cond(); c > e.cfg.MaxCond || math.IsInf(c, 0) || math.IsNaN(c) {
		return nil, fmt.Errorf("%w (condition %.3g)", core.ErrSingularDesign, c)
	}
	var xtx mat.SymDense
	xtx.SymOuterK(1, X.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, core.ErrSingularDesign
	}
	var xtxInv mat.SymDense
	if err := chol.InverseTo(&xtxInv); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrSingularDesign, err)
	}

	beta := mat.NewVecDense(nTerms, nil)
	prev := make([]float64, nTerms)
	yv := mat.NewVecDense(n, y)
	fitted := mat.NewVecDense(n, nil)
	sigma := 0.0
	iter := 0
	for iter = 1; iter <= e.cfg.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := qr.SolveVecTo(beta, false, yv); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrSingularDesign, err)
		}
		fitted.MulVec(X, beta)

		// Residual variance; censored rows contribute their conditional
		// second moment below the limit.
		ss := 0.0
		for i, s := range samples {
			r := y[i] - fitted.AtVec(i)
			ss += r * r
			if s.Censored && sigma > 0 {
				alpha := (lim[i] - fitted.AtVec(i)) / sigma
				lambda := millsBelow(alpha)
				ss += sigma * sigma * math.Max(0, 1-alpha*lambda-lambda*lambda)
			}
		}
		newSigma := math.Sqrt(ss / float64(n-nTerms))
		if newSigma == 0 || math.IsNaN(newSigma) {
			return nil, core.NewDegenerateError("zero residual variance")
		}

		delta := 0.0
		for k := 0; k < nTerms; k++ {
			delta = math.Max(delta, math.Abs(beta.AtVec(k)-prev[k]))
			prev[k] = beta.AtVec(k)
		}
		converged := iter > 1 && delta < e.cfg.Tol && math.Abs(newSigma-sigma) < e.cfg.Tol
		sigma = newSigma
		if nCensor == 0 || converged {
			break
		}

		// E-step: replace each censored response by its expectation below
		// the reporting limit under the current fit
		for i, s := range samples {
			if !s.Censored {
				continue
			}
			mu := fitted.AtVec(i)
			alpha := (lim[i] - mu) / sigma
			y[i] = mu - sigma*millsBelow(alpha)
		}
	}

	return &Coefficients{
		Beta:    append([]float64(nil), beta.RawVector().Data...),
		Sigma:   sigma,
		XtXInv:  &xtxInv,
		N:       n,
		NCensor: nCensor,
		Iter:    min(iter, e.cfg.MaxIter),
	}, nil
}

// covariates returns the sample's decimal year and discharge, taking them
// from the daily record when the sample does not carry them
func (e *Estimator) covariates(s record.Sample) (float64, float64) {
	decYear, discharge := s.DecYear, s.Discharge
	if decYear == 0 {
		decYear = core.DecimalYear(s.Date)
	}
	if discharge <= 0 {
		if row := core.DaysBetween(e.days[0].Date, s.Date); row >= 0 && row < len(e.days) {
			discharge = e.days[row].Discharge
		}
	}
	return decYear, discharge
}

// row writes the design row for one day
func (e *Estimator) row(dst []float64, decYear, discharge float64) {
	dst[0] = 1
	dst[1] = decYear - e.t0
	dst[2] = logDischarge(discharge) - e.lq0
	dst[3] = math.Sin(2 * math.Pi * decYear)
	dst[4] = math.Cos(2 * math.Pi * decYear)
}

func logDischarge(q float64) float64 {
	return math.Log(math.Max(q, minDischarge))
}

// millsBelow returns φ(α)/Φ(α), the inverse Mills ratio for a normal
// truncated above at α standard deviations from its mean
func millsBelow(alpha float64) float64 {
	p := distuv.UnitNormal.CDF(alpha)
	if p < 1e-300 {
		return -alpha
	}
	return distuv.UnitNormal.Prob(alpha) / p
}
