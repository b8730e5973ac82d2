package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/record"
	"github.com/USGS-R/EGRETci/internal/config"
	"github.com/USGS-R/EGRETci/internal/ensemble"
	"github.com/USGS-R/EGRETci/internal/errors"
	"github.com/USGS-R/EGRETci/internal/log"
	"github.com/USGS-R/EGRETci/internal/metrics"
	"github.com/USGS-R/EGRETci/internal/quantile"
	"github.com/USGS-R/EGRETci/internal/temporal"
	"github.com/USGS-R/EGRETci/ports"
)

// IntervalServiceDeps holds the collaborators of an IntervalService
type IntervalServiceDeps struct {
	Estimator ports.EstimatorPort
	RNG       ports.RNGPort
	Store     ports.ReplicateStore // optional; sessions are persisted when set
	Metrics   *metrics.Metrics     // optional
	Logger    *zap.SugaredLogger   // optional
}

// IntervalService builds replicate ensembles and serves prediction-interval
// views over them
type IntervalService struct {
	cfg        config.EnsembleConfig
	assembler  *ensemble.Assembler
	aggregator *temporal.Aggregator
	summarizer *quantile.Summarizer
	store      ports.ReplicateStore
	metrics    *metrics.Metrics
	logger     *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[core.SessionID]*Session
}

// NewIntervalService validates cfg and wires the service. Configuration
// errors are reported here, before any work starts.
func NewIntervalService(cfg config.EnsembleConfig, deps IntervalServiceDeps) (*IntervalService, error) {
	logger := deps.Logger
	if logger == nil {
		logger = log.Nop()
	}
	assembler, err := ensemble.NewAssembler(cfg, ensemble.AssemblerDeps{
		Estimator: deps.Estimator,
		RNG:       deps.RNG,
		Metrics:   deps.Metrics,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	s, err := newIntervalService(cfg, deps.Store, deps.Metrics, logger)
	if err != nil {
		return nil, err
	}
	s.assembler = assembler
	return s, nil
}

// NewReadOnlyIntervalService serves views over stored sessions only; Run
// fails with CONFIG_INVALID
func NewReadOnlyIntervalService(cfg config.EnsembleConfig, store ports.ReplicateStore, m *metrics.Metrics, logger *zap.SugaredLogger) (*IntervalService, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if store == nil {
		return nil, errors.ConfigInvalid("a read-only interval service needs a replicate store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newIntervalService(cfg, store, m, logger)
}

func newIntervalService(cfg config.EnsembleConfig, store ports.ReplicateStore, m *metrics.Metrics, logger *zap.SugaredLogger) (*IntervalService, error) {
	aggregator, err := temporal.NewAggregator(cfg.AnnualStartMonth)
	if err != nil {
		return nil, err
	}
	return &IntervalService{
		cfg:        cfg,
		aggregator: aggregator,
		summarizer: quantile.NewSummarizer(cfg.Workers),
		store:      store,
		metrics:    m,
		logger:     logger,
		sessions:   make(map[core.SessionID]*Session),
	}, nil
}

// Config returns the ensemble configuration
func (s *IntervalService) Config() config.EnsembleConfig {
	return s.cfg
}

// Run assembles the replicate ensemble for spine and opens a session on it.
// With a store configured the session is persisted before it is registered;
// a failed save releases the replicates and leaves no session behind.
// spine is the baseline fit on the original calibration samples; its
// ConcDay/FluxDay are the deterministic series reported next to each view.
func (s *IntervalService) Run(ctx context.Context, spine *record.Table, samples []record.Sample) (*Session, error) {
	if s.assembler == nil {
		return nil, errors.ConfigInvalid("interval service is read-only")
	}
	matrix, report, err := s.assembler.Assemble(ctx, spine, samples)
	if err != nil {
		return nil, err
	}

	session := s.newSession(core.NewSessionID(), time.Now().UTC(), spine, matrix, report)
	if s.store != nil {
		if err := session.Persist(ctx, s.store); err != nil {
			session.Release()
			return nil, err
		}
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	s.logger.Infow("interval session opened",
		"session", session.ID, "replicates", report.Replicates(), "discarded", report.Discarded)
	return session, nil
}

// Load returns an open session, or rebuilds it from the replicate store.
// Views of a rebuilt session use this service's probabilities and annual
// period, so a stored ensemble can be re-summarized without regenerating it.
func (s *IntervalService) Load(ctx context.Context, id core.SessionID) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok && !session.Released() {
		return session, nil
	}
	if s.store == nil {
		return nil, errors.WithCode(errors.CodeNotFound, fmt.Errorf("%w: %s", core.ErrSessionNotFound, id))
	}

	snap, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load session %s", id)
	}
	spine, err := record.NewTable(snap.Spine)
	if err != nil {
		return nil, errors.WithCode(errors.CodeDataAlignment, err)
	}
	matrix, err := ensemble.NewReplicateMatrixFromColumns(snap.Conc, snap.Flux, snap.Sources, snap.Info.NKalman)
	if err != nil {
		return nil, errors.Assembly("stored replicates are inconsistent", err)
	}
	if matrix.Days() != spine.Len() {
		return nil, errors.Assembly("stored replicates do not cover the daily record",
			core.NewShapeError("load", spine.Len(), matrix.Replicates(), matrix.Days(), matrix.Replicates()))
	}

	report := &ensemble.AssemblyReport{
		Requested:      snap.Info.NBoot,
		Effective:      snap.Info.Effective,
		Discarded:      snap.Info.Discarded,
		DiscardReasons: map[string]int{},
		NKalman:        snap.Info.NKalman,
	}
	session = s.newSession(id, snap.Info.CreatedAt, spine, matrix, report)
	session.info = snap.Info

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()
	return session, nil
}

// Sessions lists stored sessions, newest first
func (s *IntervalService) Sessions(ctx context.Context, limit int) ([]ports.SessionInfo, error) {
	if s.store == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]ports.SessionInfo, 0, len(s.sessions))
		for _, session := range s.sessions {
			out = append(out, session.Info())
		}
		return out, nil
	}
	return s.store.List(ctx, limit)
}

// Close releases a session and forgets it
func (s *IntervalService) Close(id core.SessionID) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		session.Release()
	}
}

func (s *IntervalService) newSession(
	id core.SessionID,
	createdAt time.Time,
	spine *record.Table,
	matrix *ensemble.ReplicateMatrix,
	report *ensemble.AssemblyReport,
) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  createdAt,
		spine:      spine,
		matrix:     matrix,
		report:     report,
		cfg:        s.cfg,
		aggregator: s.aggregator,
		summarizer: s.summarizer,
		metrics:    s.metrics,
		logger:     s.logger.With("session", id.String()),
		info: ports.SessionInfo{
			ID:               id,
			CreatedAt:        createdAt,
			StartDate:        spine.Start(),
			Days:             spine.Len(),
			NBoot:            report.Requested,
			NKalman:          report.NKalman,
			Effective:        report.Effective,
			Discarded:        report.Discarded,
			Rho:              s.cfg.Rho,
			Seed:             s.cfg.Seed,
			BlockLength:      s.cfg.BlockLength,
			AnnualStartMonth: s.cfg.AnnualStartMonth,
		},
	}
}
