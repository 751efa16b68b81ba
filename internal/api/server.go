// Package api exposes the trader's operational surface over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"futures-risk-lab/internal/killswitch"
	"futures-risk-lab/internal/logging"
	"futures-risk-lab/internal/resilience"
	"futures-risk-lab/internal/trader"
)

// StatusSource provides the current session state.
type StatusSource interface {
	Status() trader.Status
}

// Options holds the server's collaborators. Nil fields disable their routes.
type Options struct {
	Status     StatusSource
	KillSwitch *killswitch.KillSwitch
	Health     *resilience.HealthRegistry
	Metrics    http.Handler
	Hub        *Hub
	Logger     logrus.FieldLogger
}

// Server routes HTTP requests to the session components.
type Server struct {
	opts   Options
	logger logrus.FieldLogger
	router *mux.Router
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		logger: logging.OrDiscard(opts.Logger).WithField("component", "api"),
		router: mux.NewRouter(),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if opts.Metrics != nil {
		s.router.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	if opts.Status != nil {
		s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	}
	if opts.KillSwitch != nil {
		ks := s.router.PathPrefix("/killswitch").Subrouter()
		ks.HandleFunc("", s.handleKillSwitch).Methods(http.MethodGet)
		ks.HandleFunc("/trigger", s.handleTrigger).Methods(http.MethodPost)
		ks.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	}
	if opts.Hub != nil {
		s.router.Handle("/ws", opts.Hub).Methods(http.MethodGet)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	var report resilience.HealthReport
	if fresh, _ := strconv.ParseBool(r.URL.Query().Get("check")); fresh {
		report = s.opts.Health.CheckAll(r.Context())
	} else {
		report = s.opts.Health.Status()
	}

	code := http.StatusOK
	if !report.OverallHealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.Status.Status())
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.opts.KillSwitch.Status())
}

type triggerRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if req.Note == "" {
		req.Note = "operator request"
	}

	s.logger.WithField("note", req.Note).Warn("manual kill switch trigger")
	s.opts.KillSwitch.ManualTrigger(r.Context(), req.Note)
	s.writeJSON(w, http.StatusOK, s.opts.KillSwitch.Status())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	override := false
	if v := r.URL.Query().Get("override"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid override: "+v)
			return
		}
		override = b
	}

	if err := s.opts.KillSwitch.Reset(override); err != nil {
		if errors.Is(err, killswitch.ErrResetRejected) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.WithField("override", override).Info("kill switch reset")
	s.writeJSON(w, http.StatusOK, s.opts.KillSwitch.Status())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
