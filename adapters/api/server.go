// Package api serves stored interval sessions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/USGS-R/EGRETci/app"
	"github.com/USGS-R/EGRETci/domain/core"
	"github.com/USGS-R/EGRETci/domain/interval"
	"github.com/USGS-R/EGRETci/internal/errors"
	"github.com/USGS-R/EGRETci/internal/temporal"
	"github.com/USGS-R/EGRETci/ports"
)

// SessionSource is the part of the interval service the server reads from
type SessionSource interface {
	Load(ctx context.Context, id core.SessionID) (*app.Session, error)
	Sessions(ctx context.Context, limit int) ([]ports.SessionInfo, error)
}

// Server exposes sessions, their summaries and interval views as JSON
type Server struct {
	router   *chi.Mux
	sessions SessionSource
	logger   *zap.SugaredLogger
}

// NewServer creates the router. gatherer may be nil to omit /metrics.
func NewServer(sessions SessionSource, gatherer prometheus.Gatherer, logger *zap.SugaredLogger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		sessions: sessions,
		logger:   logger,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/api/sessions", s.handleListSessions)
	s.router.Get("/api/sessions/{id}", s.handleSummary)
	s.router.Get("/api/sessions/{id}/views/{resolution}", s.handleView)
	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, errors.InvalidInput("limit must be a positive integer"))
			return
		}
		limit = n
	}
	infos, err := s.sessions.Sessions(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	summary, err := session.Summary()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// handleView serves /api/sessions/{id}/views/{resolution}?variable=conc|flux.
// The variable defaults to flux.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	res, err := temporal.ParseResolution(chi.URLParam(r, "resolution"))
	if err != nil {
		s.writeError(w, errors.WithCode(errors.CodeInvalidInput, err))
		return
	}
	variable := interval.VariableFlux
	if raw := r.URL.Query().Get("variable"); raw != "" {
		if variable, err = interval.ParseVariable(raw); err != nil {
			s.writeError(w, errors.WithCode(errors.CodeInvalidInput, err))
			return
		}
	}

	session, ok := s.session(w, r)
	if !ok {
		return
	}
	view, err := session.View(r.Context(), res, variable)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*app.Session, bool) {
	id, err := core.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, errors.WithCode(errors.CodeInvalidInput, err))
		return nil, false
	}
	session, err := s.sessions.Load(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return session, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warnw("failed to encode response", "error", err)
	}
}

// writeError maps error codes onto HTTP statuses
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeInvalidInput, errors.CodeConfigInvalid:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Errorw("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  errors.GetCode(err),
	})
}
