// api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/internal/jobs"
	"h2o-proposal-system/pkg/treatment"
)

const maxRequestBytes = 1 << 20

// JobService is the part of the job manager the HTTP layer uses.
type JobService interface {
	Submit(ctx context.Context, req domain.DesignRequest) (string, error)
	Poll(ctx context.Context, jobID string) (domain.JobSnapshot, error)
	Stats() jobs.Stats
}

// Pinger reports backing store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router *mux.Router
	jobs   JobService
	store  Pinger
	addr   string
	logger *zap.Logger
	server *http.Server
}

func NewServer(addr string, svc JobService, store Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router: mux.NewRouter(),
		jobs:   svc,
		store:  store,
		addr:   addr,
		logger: logger,
	}

	s.setupRoutes()
	s.setupMiddleware()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	apiRouter := s.router.PathPrefix("/api/v1").Subrouter()

	apiRouter.HandleFunc("/proposals", s.submitProposal).Methods("POST")
	apiRouter.HandleFunc("/proposals/{id}", s.pollProposal).Methods("GET")

	s.router.HandleFunc("/health", s.healthCheck).Methods("GET")
	s.router.HandleFunc("/docs", s.apiDocs).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(s.notFoundHandler)
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		// health probes are too chatty to log
		if r.URL.Path != "/health" {
			s.logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)))
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", zap.Any("panic", err), zap.String("path", r.URL.Path))
				s.respondWithError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Handlers
func (s *Server) submitProposal(w http.ResponseWriter, r *http.Request) {
	var req domain.DesignRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	jobID, err := s.jobs.Submit(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, treatment.ErrInvalidInput):
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrShutdown):
		s.respondWithError(w, http.StatusServiceUnavailable, "Service is shutting down")
		return
	default:
		s.logger.Error("failed to submit proposal", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to submit proposal")
		return
	}

	w.Header().Set("Location", "/api/v1/proposals/"+jobID)
	s.respondWithJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) pollProposal(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	snap, err := s.jobs.Poll(r.Context(), jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		s.respondWithError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to poll job", zap.String("job_id", jobID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Failed to fetch job")
		return
	}

	s.respondWithJSON(w, http.StatusOK, snap)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	storeStatus := "ok"
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
			storeStatus = err.Error()
		}
	}

	response := map[string]any{
		"status":    status,
		"service":   "proposal-api",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   "1.0.0",
		"store":     storeStatus,
		"jobs":      s.jobs.Stats(),
	}

	s.respondWithJSON(w, code, response)
}

func (s *Server) apiDocs(w http.ResponseWriter, r *http.Request) {
	docs := map[string]any{
		"title":       "Proposal API",
		"description": "Asynchronous water treatment proposal generation",
		"version":     "1.0.0",
		"endpoints": map[string]any{
			"POST /api/v1/proposals":     "Submit a design request, returns job_id",
			"GET /api/v1/proposals/{id}": "Poll job status and result",
			"GET /health":                "Service and store health",
		},
		"status_codes": []domain.JobStatus{
			domain.JobStatusQueued,
			domain.JobStatusProcessing,
			domain.JobStatusCompleted,
			domain.JobStatusFailed,
		},
	}

	s.respondWithJSON(w, http.StatusOK, docs)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	s.respondWithError(w, http.StatusNotFound, "Endpoint not found")
}

// Helper functions
func (s *Server) respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondWithError(w http.ResponseWriter, status int, message string) {
	response := map[string]string{"error": message}
	s.respondWithJSON(w, status, response)
}

// Server lifecycle
func (s *Server) Start() error {
	s.logger.Info("starting REST API server", zap.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}
