package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-agri/harrow/internal/domain"
	"github.com/opensource-agri/harrow/internal/eligibility"
	"github.com/opensource-agri/harrow/internal/model"
	"github.com/opensource-agri/harrow/internal/rules"
	"github.com/opensource-agri/harrow/internal/scoring"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, scorer *scoring.Service, refs scoring.RefProvider, engine *rules.Engine, elig *eligibility.Service, models *model.Store, version string) *Server {
	handler := NewHandler(repo, cache, bus, scorer, refs, engine, elig, models, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Application scoring
	router.Post("/applications/score", handler.ScoreApplication)
	router.Post("/applications/score/batch", handler.ScoreBatch)

	// Assessment retrieval
	router.Get("/assessments/{id}", handler.GetAssessment)

	// Eligibility
	router.Post("/eligibility/check", handler.CheckEligibility)
	router.Get("/norms", handler.GetNorms)

	// Season recommendation
	router.Get("/seasons/recommendation", handler.SeasonRecommendation)

	// Fraud statistics
	router.Get("/stats/fraud", handler.FraudStats)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	// Model management
	router.Get("/model", handler.GetModel)
	router.Post("/model/reload", handler.ReloadModel)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
