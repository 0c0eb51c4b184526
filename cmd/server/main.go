package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/openesg/validate/internal/logger"
	"github.com/openesg/validate/report"
	"github.com/openesg/validate/review"
	"github.com/openesg/validate/rules"
)

type Server struct {
	db     *sql.DB
	engine *rules.ValidationEngine
	ledger *review.Ledger
	router *chi.Mux
}

// NewServer loads the rule catalog, connects to the result store, and
// wires the HTTP routes. A catalog that fails to load aborts startup.
func NewServer(cfg Config) (*Server, error) {
	store, err := rules.LoadFile(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule catalog: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	ledger := review.NewLedger(
		review.NewPostgresResultStore(db),
		review.NewPostgresAuditSink(db),
	)

	s := newServer(rules.NewEngine(store), ledger, db)

	summary := store.Summary()
	logger.Info("rule catalog loaded",
		"rules", summary.TotalRules, "industries", len(summary.Industries))

	return s, nil
}

// newServer wires routes around injected collaborators; tests use it
// with an in-memory ledger and no database.
func newServer(engine *rules.ValidationEngine, ledger *review.Ledger, db *sql.DB) *Server {
	s := &Server{
		db:     db,
		engine: engine,
		ledger: ledger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/rules/summary", s.handleRulesSummary)

	r.Post("/api/v1/validate", s.handleValidate)

	r.Route("/api/v1/record-sets/{recordSetID}", func(r chi.Router) {
		r.Get("/report", s.handleReport)
		r.Get("/statistics", s.handleStatistics)
		r.Get("/review-summary", s.handleReviewSummary)
		r.Get("/export-readiness", s.handleExportReadiness)
	})

	r.Route("/api/v1/results", func(r chi.Router) {
		r.Post("/review", s.handleBulkReview)
		r.Post("/{resultID}/review", s.handleReview)
		r.Post("/{resultID}/suppress", s.handleSuppress)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"rules_loaded": s.engine.Store().Summary().TotalRules,
	})
}

func (s *Server) handleRulesSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Store().Summary())
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	recordSetID, err := uuid.Parse(req.RecordSetID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "record_set_id must be a UUID", err)
		return
	}
	if req.Industry == "" {
		respondError(w, http.StatusBadRequest, "industry is required", nil)
		return
	}
	if len(req.Records) == 0 {
		respondError(w, http.StatusBadRequest, "records are required", nil)
		return
	}

	records := make([]*rules.NormalizedRecord, 0, len(req.Records))
	for i, payload := range req.Records {
		rec, err := toRecord(payload)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid record at index %d", i), err)
			return
		}
		records = append(records, rec)
	}

	start := time.Now()
	results := s.engine.ValidateBatch(records, req.Industry)

	runID, err := s.ledger.SaveRun(recordSetID, req.Industry, len(records), results)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save validation run", err)
		return
	}

	logger.Info("validation run saved",
		"record_set_id", recordSetID.String(),
		"run_id", runID.String(),
		"records", len(records),
		"findings", len(results),
		"duration", time.Since(start).String())

	respondJSON(w, http.StatusOK, report.Build(recordSetID, len(records), results))
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	recordSetID, ok := parseID(w, r, "recordSetID")
	if !ok {
		return
	}

	run, err := s.ledger.LatestRun(recordSetID)
	if errors.Is(err, review.ErrRunNotFound) {
		respondError(w, http.StatusNotFound, "record set has no validation run", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load run", err)
		return
	}

	results, err := s.ledger.Results(recordSetID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load results", err)
		return
	}

	respondJSON(w, http.StatusOK, report.Build(recordSetID, run.RecordCount, results))
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	recordSetID, ok := parseID(w, r, "recordSetID")
	if !ok {
		return
	}
	results, err := s.ledger.Results(recordSetID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load results", err)
		return
	}
	respondJSON(w, http.StatusOK, report.BuildStatistics(results))
}

func (s *Server) handleReviewSummary(w http.ResponseWriter, r *http.Request) {
	recordSetID, ok := parseID(w, r, "recordSetID")
	if !ok {
		return
	}
	summary, err := s.ledger.Summary(recordSetID)
	if errors.Is(err, review.ErrRunNotFound) {
		respondError(w, http.StatusNotFound, "record set has no validation run", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to build review summary", err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleExportReadiness(w http.ResponseWriter, r *http.Request) {
	recordSetID, ok := parseID(w, r, "recordSetID")
	if !ok {
		return
	}
	readiness, err := s.ledger.ExportReadiness(recordSetID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to compute export readiness", err)
		return
	}
	respondJSON(w, http.StatusOK, readiness)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	resultID, ok := parseID(w, r, "resultID")
	if !ok {
		return
	}

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Reviewer == "" {
		respondError(w, http.StatusBadRequest, "reviewer is required", nil)
		return
	}

	result, err := s.ledger.MarkReviewed(resultID, req.Reviewer, req.Notes)
	if errors.Is(err, review.ErrResultNotFound) {
		respondError(w, http.StatusNotFound, "validation result not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to mark result reviewed", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSuppress(w http.ResponseWriter, r *http.Request) {
	resultID, ok := parseID(w, r, "resultID")
	if !ok {
		return
	}

	var req SuppressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := s.ledger.SuppressWarning(resultID, req.Reviewer, req.Reason)
	if errors.Is(err, review.ErrResultNotFound) {
		respondError(w, http.StatusNotFound, "validation result not found", err)
		return
	}
	if errors.Is(err, review.ErrNotWarning) {
		respondError(w, http.StatusBadRequest, "only warnings can be suppressed", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to suppress warning", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleBulkReview(w http.ResponseWriter, r *http.Request) {
	var req BulkReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Reviewer == "" {
		respondError(w, http.StatusBadRequest, "reviewer is required", nil)
		return
	}

	ids := make([]uuid.UUID, 0, len(req.ResultIDs))
	for _, raw := range req.ResultIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid result id %q", raw), err)
			return
		}
		ids = append(ids, id)
	}

	count, err := s.ledger.BulkReview(ids, req.Reviewer, req.Notes)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "bulk review failed", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"reviewed": count})
}

func toRecord(p RecordPayload) (*rules.NormalizedRecord, error) {
	id := uuid.New()
	if p.ID != "" {
		parsed, err := uuid.Parse(p.ID)
		if err != nil {
			return nil, fmt.Errorf("record id must be a UUID: %w", err)
		}
		id = parsed
	}
	if p.Indicator == "" {
		return nil, fmt.Errorf("indicator is required")
	}
	return &rules.NormalizedRecord{
		ID:              id,
		Indicator:       p.Indicator,
		Value:           p.Value,
		Unit:            p.Unit,
		OriginalValue:   p.OriginalValue,
		OriginalUnit:    p.OriginalUnit,
		FacilityID:      p.FacilityID,
		ReportingPeriod: p.ReportingPeriod,
		Metadata:        p.Metadata,
	}, nil
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		respondError(w, http.StatusBadRequest, param+" must be a UUID", err)
		return uuid.Nil, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("configuration error", "error", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.db.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
