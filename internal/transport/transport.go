// Package transport is the HTTP + WebSocket shell around the Controller:
// request parsing, strict-body decoding, bearer-token authorization, rate
// limiting, and serialization of concurrent tick callers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/econregulator/regulator/internal/controller"
	"github.com/econregulator/regulator/internal/decisionlog"
	"github.com/econregulator/regulator/internal/metricstore"
	"github.com/econregulator/regulator/internal/planner"
	"github.com/econregulator/regulator/internal/principles"
	"github.com/econregulator/regulator/internal/regerrors"
	"github.com/econregulator/regulator/internal/registry"
	"github.com/econregulator/regulator/internal/validation"
	"github.com/econregulator/regulator/pkg/types"
)

// Server is the HTTP/WebSocket shell around a Controller.
type Server struct {
	logger *zap.Logger
	config types.ServerConfig

	ctrl      *controller.Controller
	diag      *principles.Diagnoser
	plan      *planner.Planner
	registry  *registry.Registry
	metrics   *metricstore.Store
	decisions *decisionlog.Log
	startedAt time.Time

	router     *mux.Router
	httpServer *http.Server

	// tickMu serializes concurrent tick callers (HTTP POST + WS
	// messages) so the shared decision log, active-plan set, and event
	// buffer never interleave across goroutines.
	tickMu sync.Mutex

	limiter     *rate.Limiter
	connLimiter func() *rate.Limiter
}

// Deps bundles the components the transport shell needs beyond the
// Controller itself, since some routes (diagnose, approve) bypass the
// pipeline driver.
type Deps struct {
	Diagnoser *principles.Diagnoser
	Planner   *planner.Planner
	Registry  *registry.Registry
	Metrics   *metricstore.Store
	Decisions *decisionlog.Log
}

// NewServer creates a transport shell wired to ctrl.
func NewServer(logger *zap.Logger, cfg types.ServerConfig, ctrl *controller.Controller, deps Deps) *Server {
	s := &Server{
		logger:    logger.Named("transport"),
		config:    cfg,
		ctrl:      ctrl,
		diag:      deps.Diagnoser,
		plan:      deps.Planner,
		registry:  deps.Registry,
		metrics:   deps.Metrics,
		decisions: deps.Decisions,
		startedAt: time.Now(),
		router:    mux.NewRouter(),
		limiter:   rate.NewLimiter(rate.Limit(cfg.MaxTicksPerSecond), int(cfg.MaxTicksPerSecond)+1),
	}
	s.connLimiter = func() *rate.Limiter {
		return rate.NewLimiter(rate.Limit(cfg.MaxTicksPerSecondPerConn), int(cfg.MaxTicksPerSecondPerConn)+1)
	}
	s.setupRoutes()

	ctrl.On(controller.EventDecision, func(payload any) any {
		if entry, ok := payload.(types.DecisionEntry); ok {
			decisionsTotal.WithLabelValues(string(entry.Result)).Inc()
		}
		return nil
	})

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/tick", s.handleTick).Methods(http.MethodPost)
	s.router.HandleFunc("/diagnose", s.handleDiagnose).Methods(http.MethodPost)
	s.router.HandleFunc("/config", s.requireAuth(s.handleConfig)).Methods(http.MethodPost)
	s.router.HandleFunc("/approve", s.requireAuth(s.handleApprove)).Methods(http.MethodPost)
	s.router.HandleFunc("/reject", s.requireAuth(s.handleReject)).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/decisions", s.handleDecisions).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics/prom", s.handlePrometheus).Methods(http.MethodGet)
	s.router.HandleFunc("/principles", s.handlePrinciples).Methods(http.MethodGet)
	s.router.HandleFunc("/pending", s.handlePending).Methods(http.MethodGet)
	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Handler returns the CORS-wrapped router, suitable for http.Server.Handler.
func (s *Server) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{s.config.CORSOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
}

// Start runs the HTTP server; blocks until Stop's context-driven shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.Info("starting transport server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			next(w, r)
			return
		}
		token := r.Header.Get("Authorization")
		if token != "Bearer "+s.config.APIKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", regerrors.ErrUnauthorized.Error())
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}

func decodeStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type tickRequest struct {
	State  *types.EconomyState   `json:"state"`
	Events []types.EconomicEvent `json:"events,omitempty"`
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate_limited", regerrors.ErrRateLimited.Error())
		return
	}

	var req tickRequest
	if err := decodeStrict(r, &req); err != nil || req.State == nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "malformed tick request body")
		return
	}

	result := validation.ValidateState(req.State)
	if !result.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":           "invalid_state",
			"validationErrors": result.Errors,
		})
		return
	}

	for _, ev := range req.Events {
		s.ctrl.Ingest(ev)
	}

	s.tickMu.Lock()
	outcome, err := s.ctrl.Tick(r.Context(), req.State)
	s.tickMu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "adapter_failure", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

type diagnoseRequest struct {
	State *types.EconomyState `json:"state"`
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	var req diagnoseRequest
	if err := decodeStrict(r, &req); err != nil || req.State == nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "malformed diagnose request body")
		return
	}

	result := validation.ValidateState(req.State)
	if !result.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":           "invalid_state",
			"validationErrors": result.Errors,
		})
		return
	}

	health, diagnoses, err := s.ctrl.Diagnose(req.State)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "observer_failure", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"health":    health,
		"diagnoses": diagnoses,
	})
}

type configRequest struct {
	Lock      []string                     `json:"lock,omitempty"`
	Unlock    []string                     `json:"unlock,omitempty"`
	Constrain map[string]types.ParameterConstraint `json:"constrain,omitempty"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_state", "malformed config request body")
		return
	}
	for _, key := range req.Lock {
		s.plan.Lock(key)
	}
	for _, key := range req.Unlock {
		s.plan.Unlock(key)
	}
	for key, constraint := range req.Constrain {
		c := constraint
		s.registry.SetConstraint(key, &c)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type decisionActionRequest struct {
	DecisionID string `json:"decisionId"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleDecisionAction(w, r, types.ResultApplied)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleDecisionAction(w, r, types.ResultRejected)
}

func (s *Server) handleDecisionAction(w http.ResponseWriter, r *http.Request, outcome types.DecisionResult) {
	var req decisionActionRequest
	if err := decodeStrict(r, &req); err != nil || req.DecisionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_state", "malformed decision action body")
		return
	}

	var err error
	if outcome == types.ResultApplied {
		err = s.ctrl.ApproveDecision(r.Context(), req.DecisionID)
	} else {
		err = s.ctrl.RejectDecision(req.DecisionID)
	}

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, regerrors.ErrDecisionNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, regerrors.ErrDecisionNotPending):
		writeError(w, http.StatusConflict, "not_pending", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "adapter_failure", err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	latest := s.metrics.Latest(metricstore.Fine)
	writeJSON(w, http.StatusOK, map[string]any{
		"health":      s.ctrl.HealthScore(latest),
		"uptime":      time.Since(s.startedAt).Seconds(),
		"tick":        s.ctrl.CurrentTick(),
		"activePlans": s.ctrl.ActivePlanCount(),
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	filter := decisionlog.Filter{
		Result:      types.DecisionResult(r.URL.Query().Get("result")),
		Parameter:   r.URL.Query().Get("parameter"),
		PrincipleID: r.URL.Query().Get("principleId"),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = t
		}
	}
	if until := r.URL.Query().Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filter.Until = t
		}
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	var decisions []types.DecisionEntry
	if filter == (decisionlog.Filter{}) {
		decisions = s.decisions.Latest(limit)
	} else {
		decisions = s.decisions.Query(filter)
		if len(decisions) > limit {
			decisions = decisions[len(decisions)-limit:]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"latest":  s.metrics.Latest(metricstore.Fine),
		"history": s.metrics.Series(metricstore.Fine),
	})
}

func (s *Server) handlePrinciples(w http.ResponseWriter, r *http.Request) {
	all := s.diag.All()
	type principleDesc struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Category    string `json:"category"`
		Description string `json:"description"`
	}
	descs := make([]principleDesc, len(all))
	for i, p := range all {
		descs[i] = principleDesc{ID: p.ID(), Name: p.Name(), Category: p.Category(), Description: p.Description()}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(descs), "principles": descs})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending := s.decisions.Query(decisionlog.Filter{Result: types.ResultSkippedOverride})
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    "advisor",
		"pending": pending,
		"count":   len(pending),
	})
}
