package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"advsec/analysis"
	"advsec/core"
	"advsec/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes stored alerts and analysis reports over HTTP. It serves
// reads only; collection happens through the CLI.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	store        *storage.SQLiteAlertStorage
	analyzer     *analysis.Analyzer
	organization string
	project      string
	logger       *zap.SugaredLogger
}

// NewServer builds the API server and registers all routes.
func NewServer(addr string, store *storage.SQLiteAlertStorage, analyzer *analysis.Analyzer, organization, project string, logger *zap.SugaredLogger) *Server {
	s := &Server{
		router:       mux.NewRouter(),
		store:        store,
		analyzer:     analyzer,
		organization: organization,
		project:      project,
		logger:       logger,
	}

	s.routes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{repository}/{alertID:[0-9]+}", s.handleAlertDetails).Methods(http.MethodGet)

	api.HandleFunc("/reports/summary", s.handleSummaryReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/severity", s.handleSeverityReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/trend", s.handleTrendReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/top-repositories", s.handleTopRepositories).Methods(http.MethodGet)
	api.HandleFunc("/reports/top-rules", s.handleTopRules).Methods(http.MethodGet)
	api.HandleFunc("/reports/files", s.handleAlertsByFile).Methods(http.MethodGet)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Infow("API server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := &core.AlertFilters{
		Organization: s.organization,
		Project:      s.project,
		Repository:   q.Get("repository"),
		Type:         core.AlertType(q.Get("type")),
	}

	for _, sev := range splitParam(q.Get("severity")) {
		filters.Severities = append(filters.Severities, core.Severity(sev))
	}
	for _, state := range splitParam(q.Get("state")) {
		filters.States = append(filters.States, core.AlertState(state))
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit: %q", limit))
			return
		}
		filters.Limit = n
	}

	alerts, err := s.store.GetAlerts(r.Context(), filters)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	if alerts == nil {
		alerts = []*core.Alert{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(alerts),
		"value": alerts,
	})
}

func (s *Server) handleAlertDetails(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	alertID, err := strconv.ParseInt(vars["alertID"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid alert id: %q", vars["alertID"]))
		return
	}

	alert, err := s.store.GetAlertDetails(r.Context(), s.organization, s.project, vars["repository"], alertID)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleSummaryReport(w http.ResponseWriter, r *http.Request) {
	scope := s.scopeFromRequest(r)
	days := intParam(r, "days", 30)
	interval := analysis.Interval(r.URL.Query().Get("interval"))

	report, err := s.analyzer.FullReport(r.Context(), scope, days, interval)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSeverityReport(w http.ResponseWriter, r *http.Request) {
	counts, err := s.analyzer.CountsBySeverity(r.Context(), s.scopeFromRequest(r), intParam(r, "days", 30))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleTrendReport(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.analyzer.Trend(r.Context(), s.scopeFromRequest(r),
		intParam(r, "days", 30),
		analysis.Interval(r.URL.Query().Get("interval")),
	)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleTopRepositories(w http.ResponseWriter, r *http.Request) {
	var severities []core.Severity
	for _, sev := range splitParam(r.URL.Query().Get("severity")) {
		severities = append(severities, core.Severity(sev))
	}

	counts, err := s.analyzer.TopRepositories(r.Context(), s.scopeFromRequest(r), severities, intParam(r, "limit", analysis.DefaultTopLimit))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleTopRules(w http.ResponseWriter, r *http.Request) {
	counts, err := s.analyzer.TopRules(r.Context(), s.scopeFromRequest(r), intParam(r, "limit", analysis.DefaultTopLimit))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleAlertsByFile(w http.ResponseWriter, r *http.Request) {
	counts, err := s.analyzer.AlertsByFile(r.Context(), s.scopeFromRequest(r), intParam(r, "limit", analysis.DefaultSearchLimit))
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	results, err := s.analyzer.Search(r.Context(), s.scopeFromRequest(r),
		r.URL.Query().Get("q"),
		intParam(r, "limit", analysis.DefaultSearchLimit),
	)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}
	if results == nil {
		results = []analysis.AlertSummary{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(results),
		"value": results,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Server) scopeFromRequest(r *http.Request) analysis.Scope {
	return analysis.Scope{
		Organization: s.organization,
		Project:      s.project,
		Repository:   r.URL.Query().Get("repository"),
	}
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorw("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeStorageError maps storage sentinel errors to HTTP status codes.
func (s *Server) writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrValidation):
		s.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, storage.ErrAlertNotFound) || errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err)
	default:
		s.logger.Errorw("Request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err)
	}
}
