// Package server provides the worker's operational HTTP API: health,
// queue and cache statistics, and a manual orchestration trigger.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/marketbrief/marketbrief/internal/cache"
	"github.com/marketbrief/marketbrief/internal/database"
	"github.com/marketbrief/marketbrief/internal/queue"
)

// StatsProvider exposes one cache namespace's counters.
type StatsProvider interface {
	Name() string
	Stats() cache.Stats
}

// Pinger reports broker connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server configuration.
type Config struct {
	Port    int
	DevMode bool
}

// Server is the operational HTTP API.
type Server struct {
	router      *chi.Mux
	httpServer  *http.Server
	cfg         Config
	queues      map[string]*queue.Queue
	caches      []StatsProvider
	db          *database.DB
	broker      Pinger
	orchestrate *queue.Queue
	startupTime time.Time
	log         zerolog.Logger
}

// New creates the server and mounts its routes.
func New(
	cfg Config,
	queues map[string]*queue.Queue,
	caches []StatsProvider,
	db *database.DB,
	broker Pinger,
	orchestrate *queue.Queue,
	log zerolog.Logger,
) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		cfg:         cfg,
		queues:      queues,
		caches:      caches,
		db:          db,
		broker:      broker,
		orchestrate: orchestrate,
		startupTime: time.Now(),
		log:         log.With().Str("component", "server").Logger(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/system/health", s.handleSystemHealth)
		r.Get("/queues/stats", s.handleQueueStats)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Post("/orchestrate", s.handleOrchestrate)
	})
}

// Router returns the mounted router, used directly by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Info().Int("port", s.cfg.Port).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
