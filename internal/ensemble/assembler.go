// Package ensemble builds the replicate matrix: bootstrap re-estimation of the
// concentration model followed by stochastic AR(1) traces around each fit.
package ensemble

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/record"
	"github.com/USGS-R/EGRETci/internal/config"
	"github.com/USGS-R/EGRETci/internal/errors"
	"github.com/USGS-R/EGRETci/internal/log"
	"github.com/USGS-R/EGRETci/internal/metrics"
	"github.com/USGS-R/EGRETci/ports"
)

// AssemblyReport summarizes one ensemble build
type AssemblyReport struct {
	Requested      int            `json:"requested"`
	Effective      int            `json:"effective"`
	Discarded      int            `json:"discarded"`
	DiscardReasons map[string]int `json:"discard_reasons"`
	NKalman        int            `json:"n_kalman"`
	Dropped        int            `json:"dropped_samples"` // samples outside the daily record
	Duration       time.Duration  `json:"duration"`
}

// Replicates returns the number of surviving columns
func (r *AssemblyReport) Replicates() int {
	return r.Effective * r.NKalman
}

// AssemblerDeps holds the collaborators of an Assembler
type AssemblerDeps struct {
	Estimator ports.EstimatorPort
	RNG       ports.RNGPort
	Metrics   *metrics.Metrics   // optional
	Logger    *zap.SugaredLogger // optional
}

// Assembler runs nBoot bootstrap attempts and collects their traces
type Assembler struct {
	cfg       config.EnsembleConfig
	estimator ports.EstimatorPort
	rng       ports.RNGPort
	resampler *Resampler
	synth     *TraceSynthesizer
	fitGate   *semaphore.Weighted
	metrics   *metrics.Metrics
	logger    *zap.SugaredLogger
}

// NewAssembler validates cfg and wires the assembler
func NewAssembler(cfg config.EnsembleConfig, deps AssemblerDeps) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Estimator == nil {
		return nil, errors.ConfigInvalid("estimator is required")
	}
	if deps.RNG == nil {
		return nil, errors.ConfigInvalid("random source is required")
	}
	synth, err := NewTraceSynthesizer(cfg.Rho)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Assembler{
		cfg:       cfg,
		estimator: deps.Estimator,
		rng:       deps.RNG,
		resampler: NewResampler(cfg.BlockLength),
		synth:     synth,
		fitGate:   semaphore.NewWeighted(int64(cfg.FitConcurrency)),
		metrics:   deps.Metrics,
		logger:    logger,
	}, nil
}

// attemptOutcome is written only by the goroutine running that attempt
type attemptOutcome struct {
	ok  bool
	err error
}

// Assemble builds the replicate matrix for spine. samples are the calibration
// events; their observations pin (or, when censored, bound) every trace. With
// no samples every trace is unconditioned, and whether an empty calibration
// set can be fitted is left to the estimator.
// Attempts whose fit fails or does not line up with spine are discarded and
// counted; the run fails only if none survive.
func (a *Assembler) Assemble(ctx context.Context, spine *record.Table, samples []record.Sample) (*ReplicateMatrix, *AssemblyReport, error) {
	start := time.Now()
	if spine == nil {
		return nil, nil, errors.InvalidInput("daily record is required")
	}
	if err := spine.Validate(); err != nil {
		return nil, nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	sorted := append([]record.Sample(nil), samples...)
	record.SortSamples(sorted)
	observed, dropped := spine.AttachSamples(sorted)
	if len(dropped) > 0 {
		a.logger.Warnw("samples outside the daily record ignored for conditioning",
			"dropped", len(dropped), "record", spine.Span())
	}
	anchors := AnchorsFrom(observed)

	nDays := spine.Len()
	m := newReplicateMatrix(nDays, a.cfg.NBoot, a.cfg.NKalman)
	outcomes := make([]attemptOutcome, a.cfg.NBoot)

	a.logger.Infow("assembling replicate ensemble",
		"days", nDays, "samples", len(sorted), "anchors", len(anchors),
		"nBoot", a.cfg.NBoot, "nKalman", a.cfg.NKalman, "rho", a.cfg.Rho,
		"blockLength", a.cfg.BlockLength, "workers", a.cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for i := 0; i < a.cfg.NBoot; i++ {
		g.Go(func() error {
			return a.attempt(gctx, i, spine, sorted, anchors, m, &outcomes[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	report := &AssemblyReport{
		Requested:      a.cfg.NBoot,
		DiscardReasons: make(map[string]int),
		NKalman:        a.cfg.NKalman,
		Dropped:        len(dropped),
	}
	kept := make([]int, 0, a.cfg.NBoot)
	for i, o := range outcomes {
		if o.ok {
			kept = append(kept, i)
			continue
		}
		code := errors.GetCode(o.err)
		report.DiscardReasons[code]++
		a.metrics.ObserveDiscard(code)
	}
	report.Effective = len(kept)
	report.Discarded = a.cfg.NBoot - len(kept)

	if len(kept) == 0 {
		return nil, report, errors.Assembly(
			fmt.Sprintf("all %d bootstrap attempts were discarded", a.cfg.NBoot), core.ErrNoReplicates)
	}
	m.compact(kept)
	if err := m.checkShape("assembly", nDays, len(kept)*a.cfg.NKalman); err != nil {
		return nil, report, errors.Assembly("replicate matrix has the wrong shape", err)
	}

	report.Duration = time.Since(start)
	a.metrics.ObserveAssembly(report.Duration)
	a.logger.Infow("replicate ensemble assembled",
		"effective", report.Effective, "discarded", report.Discarded,
		"replicates", report.Replicates(), "duration", report.Duration)
	return m, report, nil
}

// attempt performs bootstrap attempt i and writes its traces into the column
// block [i·nKalman, (i+1)·nKalman). Soft failures are recorded in out and
// return nil so sibling attempts keep running; only cancellation propagates.
func (a *Assembler) attempt(
	ctx context.Context,
	i int,
	spine *record.Table,
	samples []record.Sample,
	anchors []Anchor,
	m *ReplicateMatrix,
	out *attemptOutcome,
) error {
	a.metrics.ObserveAttempt()

	resampleRNG, err := a.rng.Stream(ctx, "resample", i)
	if err != nil {
		return err
	}
	traceRNG, err := a.rng.Stream(ctx, "trace", i)
	if err != nil {
		return err
	}

	resample := a.resampler.Resample(resampleRNG, samples)
	fit, err := a.fit(ctx, resample)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		a.discard(i, err, out)
		return nil
	}
	if err := spine.AlignedWith(fit); err != nil {
		a.discard(i, err, out)
		return nil
	}
	if err := fit.Validate(); err != nil {
		a.discard(i, err, out)
		return nil
	}

	n := spine.Len()
	z := make([]float64, n)
	conc := make([]float64, n)
	flux := make([]float64, n)
	base := i * a.cfg.NKalman
	for k := 0; k < a.cfg.NKalman; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.synth.Synthesize(traceRNG, fit, anchors, z, conc, flux)
		m.writeTrace(base+k, conc, flux)
	}
	out.ok = true
	return nil
}

// discard records why attempt i produced no replicates. Alignment failures
// count as DATA_ALIGNMENT, anything else as ESTIMATION_FAILURE. Errors outside
// the known discard set are still discarded but logged as warnings.
func (a *Assembler) discard(i int, err error, out *attemptOutcome) {
	reason := errors.EstimationFailure(i, err)
	if core.IsAlignmentError(err) {
		reason = errors.DataAlignment(i, err)
	}
	out.err = reason
	if !core.IsDiscardable(err) {
		a.logger.Warnw("bootstrap attempt discarded on unexpected error", "attempt", i, "reason", reason.Code, "error", err)
		return
	}
	a.logger.Debugw("bootstrap attempt discarded", "attempt", i, "reason", reason.Code, "error", err)
}

// fit calls the estimator under the concurrency gate. A panicking estimator
// is treated as a failed fit.
func (a *Assembler) fit(ctx context.Context, samples []record.Sample) (fit *record.Table, err error) {
	if err := a.fitGate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.fitGate.Release(1)
	defer func() {
		if r := recover(); r != nil {
			fit, err = nil, fmt.Errorf("%w: estimator panic: %v", core.ErrEstimationFailed, r)
		}
	}()

	fit, err = a.estimator.Fit(ctx, samples)
	if err == nil && fit == nil {
		err = fmt.Errorf("%w: estimator returned no table", core.ErrEstimationFailed)
	}
	return fit, err
}
