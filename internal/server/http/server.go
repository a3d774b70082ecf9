// Package httpserver provides the HTTP REST API server for the screening service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/osteoscope/screening-service/internal/adminqueue"
	"github.com/osteoscope/screening-service/internal/analysis"
	"github.com/osteoscope/screening-service/internal/store"
	"github.com/osteoscope/screening-service/internal/workflow"
)

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	workflows  *workflow.Service
	queue      *adminqueue.Queue
	analyses   *analysis.Pipeline
	store      *store.Store
	uploadDir  string
	validate   *validator.Validate
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server with all dependencies. uploadDir is the
// directory uploaded images are served from; when empty no file route is
// mounted (uploads are embedded as data URLs instead).
func NewServer(
	cfg Config,
	workflows *workflow.Service,
	queue *adminqueue.Queue,
	analyses *analysis.Pipeline,
	st *store.Store,
	uploadDir string,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		workflows: workflows,
		queue:     queue,
		analyses:  analyses,
		store:     st,
		uploadDir: uploadDir,
		validate:  newValidator(),
		logger:    logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestContextMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	// Uploaded radiographs, addressable by the stored file name.
	if s.uploadDir != "" {
		files := http.StripPrefix("/files/", http.FileServer(http.Dir(s.uploadDir)))
		r.Get("/files/*", files.ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)

		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", s.startWorkflow)
			r.Get("/", s.listWorkflows)

			r.Route("/{workflowID}", func(r chi.Router) {
				r.Get("/", s.getWorkflow)
				r.Get("/audit", s.getWorkflowAudit)
				r.Post("/image", s.uploadImage)
				r.Post("/roi/detect", s.detectROI)
				r.Post("/roi/approve", s.approveROI)
				r.Post("/roi/adjust", s.adjustROI)
				r.Post("/payment/claim", s.claimPayment)
			})
		})

		r.Route("/admin/queue", func(r chi.Router) {
			r.Get("/", s.listQueue)
			r.Post("/{workflowID}/approve", s.approvePayment)
			r.Post("/{workflowID}/reject", s.rejectPayment)
		})

		r.Get("/analyses/{analysisID}", s.getAnalysis)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler verifies the entity store backend is reachable.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"store":  "unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"store":  "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
