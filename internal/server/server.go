package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"manifest/internal/config"
	"manifest/internal/core"
	"manifest/internal/imageutil"
	"manifest/internal/logger"
	"manifest/internal/pipeline"
	"manifest/internal/vectorstore"
)

// Service is the slice of the pipeline the HTTP layer uses.
type Service interface {
	Ingest(ctx context.Context, image imageutil.Source, imageURL, userID string) (string, core.ItemContext, error)
	Search(ctx context.Context, query string, opts pipeline.SearchOptions) (*pipeline.SearchResult, error)
	Pack(ctx context.Context, query string, cons core.PackingConstraints, opts pipeline.PackOptions) (core.PackingResult, error)
	PackMulti(ctx context.Context, query string, containers []core.ContainerSpec, cons core.PackingConstraints, opts pipeline.PackOptions) (core.MultiBinResult, error)
	PackAndExplain(ctx context.Context, query string, cons core.PackingConstraints, opts pipeline.PackOptions) (core.PackingResult, *core.MissionPlan, error)
	List(ctx context.Context) ([]vectorstore.Record, error)
	Delete(ctx context.Context, itemID string) error
	Count(ctx context.Context) (int, error)
}

// Server exposes the pipeline over HTTP.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	pipeline   Service
	containers *containerRegistry
	config     config.Server
	log        *slog.Logger
}

// New creates a new HTTP server instance
func New(p Service, cfg config.Server) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		pipeline:   p,
		containers: newContainerRegistry(),
		config:     cfg,
		log:        logger.Get(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// Pack solves plus two LLM round-trips can take a while.
	s.router.Use(middleware.Timeout(120 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Post("/search", s.handleSearch)
		r.Post("/pack", s.handlePack)

		r.Route("/items", func(r chi.Router) {
			r.Get("/", s.handleListItems)
			r.Get("/count", s.handleCount)
			r.Delete("/{id}", s.handleDeleteItem)
		})

		r.Route("/containers", func(r chi.Router) {
			r.Get("/", s.handleListContainers)
			r.Post("/", s.handleCreateContainer)
			r.Delete("/{id}", s.handleDeleteContainer)
		})

		r.Get("/presets", s.handlePresets)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	return nil
}
