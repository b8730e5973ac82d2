package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/interval"
	"github.com/USGS-R/EGRETci/domain/record"
	"github.com/USGS-R/EGRETci/internal/config"
	"github.com/USGS-R/EGRETci/internal/ensemble"
	"github.com/USGS-R/EGRETci/internal/errors"
	"github.com/USGS-R/EGRETci/internal/metrics"
	"github.com/USGS-R/EGRETci/internal/quantile"
	"github.com/USGS-R/EGRETci/internal/temporal"
	"github.com/USGS-R/EGRETci/ports"
)

// Session is one assembled ensemble. Views may be requested any number of
// times and concurrently until Release is called.
type Session struct {
	ID        core.SessionID
	CreatedAt time.Time

	spine      *record.Table
	matrix     *ensemble.ReplicateMatrix
	report     *ensemble.AssemblyReport
	info       ports.SessionInfo
	cfg        config.EnsembleConfig
	aggregator *temporal.Aggregator
	summarizer *quantile.Summarizer
	metrics    *metrics.Metrics
	logger     *zap.SugaredLogger

	mu sync.RWMutex
}

// Summary describes a session for reports and the HTTP surface
type Summary struct {
	SessionID      core.SessionID          `json:"session_id"`
	Start          time.Time               `json:"start"`
	End            time.Time               `json:"end"`
	Days           int                     `json:"days"`
	Replicates     int                     `json:"replicates"`
	Report         ensemble.AssemblyReport `json:"report"`
	TotalFlux      quantile.Spread         `json:"total_flux"`      // ensemble spread of the cumulative flux on the last day, kg
	TotalFluxModel float64                 `json:"total_flux_model"` // deterministic cumulative flux on the last day, kg
}

// DailyPI returns the per-day prediction intervals
func (s *Session) DailyPI(ctx context.Context, v interval.Variable) (*interval.View, error) {
	return s.View(ctx, temporal.ResolutionDaily, v)
}

// MonthlyPI returns intervals of the mean daily value of each calendar month
func (s *Session) MonthlyPI(ctx context.Context, v interval.Variable) (*interval.View, error) {
	return s.View(ctx, temporal.ResolutionMonthly, v)
}

// AnnualPI returns intervals of the mean daily value of each annual period
func (s *Session) AnnualPI(ctx context.Context, v interval.Variable) (*interval.View, error) {
	return s.View(ctx, temporal.ResolutionAnnual, v)
}

// CumulativePI returns intervals of the running total from the first day.
// Totals are accumulated per replicate before quantiles are taken.
func (s *Session) CumulativePI(ctx context.Context, v interval.Variable) (*interval.View, error) {
	return s.View(ctx, temporal.ResolutionCumulative, v)
}

// View computes the intervals of variable v at resolution res together with
// the deterministic series reduced onto the same buckets
func (s *Session) View(ctx context.Context, res temporal.Resolution, v interval.Variable) (*interval.View, error) {
	if _, err := interval.ParseVariable(string(v)); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.matrix == nil || s.matrix.Released() {
		return nil, errors.InvalidInput("session has been released")
	}

	buckets, err := s.aggregator.Buckets(s.spine, res)
	if err != nil {
		return nil, err
	}
	reduced, err := s.aggregator.Reduce(s.matrix.Values(v), buckets, res)
	if err != nil {
		return nil, err
	}
	results, err := s.summarizer.Summarize(ctx, reduced, buckets, s.cfg.Probabilities)
	if err != nil {
		return nil, err
	}
	series, err := s.aggregator.ReduceSeries(s.spine.Column(v == interval.VariableFlux), buckets, res)
	if err != nil {
		return nil, err
	}

	points := make([]interval.Point, len(buckets))
	for i, b := range buckets {
		points[i] = interval.Point{Key: b.Key, DecYear: b.DecYear, Value: series[i]}
	}

	s.metrics.ObserveView(string(res))
	s.logger.Debugw("interval view computed", "resolution", res, "variable", v, "buckets", len(buckets))
	return &interval.View{
		Resolution:    string(res),
		Variable:      v,
		Probabilities: append([]float64(nil), s.cfg.Probabilities...),
		Results:       results,
		Deterministic: points,
	}, nil
}

// Report returns the assembly report
func (s *Session) Report() ensemble.AssemblyReport {
	return *s.report
}

// Info returns the stored-session description
func (s *Session) Info() ports.SessionInfo {
	return s.info
}

// Spine returns the daily record the session is indexed against
func (s *Session) Spine() *record.Table {
	return s.spine
}

// Matrix returns the replicate matrix, or nil after Release
func (s *Session) Matrix() *ensemble.ReplicateMatrix {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.matrix == nil || s.matrix.Released() {
		return nil
	}
	return s.matrix
}

// Summary reports the assembly outcome and the spread of the total flux
func (s *Session) Summary() (*Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.matrix == nil || s.matrix.Released() {
		return nil, errors.InvalidInput("session has been released")
	}

	totals := make([]float64, s.matrix.Replicates())
	for r := 0; r < s.matrix.Days(); r++ {
		floats.Add(totals, s.matrix.Row(interval.VariableFlux, r))
	}
	spread, err := s.summarizer.Spread(totals)
	if err != nil {
		return nil, err
	}

	return &Summary{
		SessionID:      s.ID,
		Start:          s.spine.Start(),
		End:            s.spine.End(),
		Days:           s.spine.Len(),
		Replicates:     s.matrix.Replicates(),
		Report:         *s.report,
		TotalFlux:      spread,
		TotalFluxModel: floats.Sum(s.spine.Column(true)),
	}, nil
}

// Persist writes the session's replicates to store
func (s *Session) Persist(ctx context.Context, store ports.ReplicateStore) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.matrix == nil || s.matrix.Released() {
		return errors.InvalidInput("session has been released")
	}

	snap := &ports.ReplicateSnapshot{
		Info:    s.info,
		Spine:   s.spine.Days,
		Sources: s.matrix.Sources(),
		Conc:    s.matrix.Columns(interval.VariableConc),
		Flux:    s.matrix.Columns(interval.VariableFlux),
	}
	if err := store.Save(ctx, snap); err != nil {
		return errors.Wrapf(err, "failed to persist session %s", s.ID)
	}
	s.logger.Infow("session persisted", "replicates", len(snap.Conc))
	return nil
}

// Release drops the replicate buffers. Views fail afterwards.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.matrix != nil {
		s.matrix.Release()
		s.matrix = nil
	}
}

// Released reports whether Release has been called
func (s *Session) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matrix == nil
}
