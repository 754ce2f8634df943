// Package web provides the HTTP API for KiraKira.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// DefaultAddr is the default server address.
const DefaultAddr = "127.0.0.1:8080"

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr string
	// Origins allowed by CORS. "*" allows any origin.
	Origins []string
}

// Server is the HTTP server for the API.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	log      *zap.SugaredLogger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, handlers *Handlers, log *zap.SugaredLogger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	router := chi.NewRouter()

	s := &Server{
		router:   router,
		handlers: handlers,
		log:      log,
	}

	s.setupMiddleware(cfg.Origins)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware(origins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.log))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.Get("/healthz", h.Health)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.SetHeader("Cache-Control", "no-store"))

		r.Post("/auth/telegram", h.SignIn)

		// Owned data
		r.Get("/profile", h.GetProfile)
		r.Patch("/profile", h.UpdateProfile)
		r.Get("/profile/photo", h.ProfilePhoto)
		r.Get("/moods", h.ListMoods)
		r.Post("/moods", h.CheckIn)
		r.Get("/stats", h.Stats)
		r.Post("/stats/verify", h.VerifyStats)
		r.Get("/garden", h.Garden)
		r.Get("/wallet", h.Wallet)
		r.Post("/shop/purchase", h.Purchase)
		r.Get("/friends", h.ListFriends)
		r.Post("/friends", h.RequestFriend)
		r.Post("/friends/{id}/accept", h.AcceptFriend)
		r.Post("/challenges/{id}/join", h.JoinChallenge)

		// Public reads
		r.Get("/shop", h.Shop)
		r.Get("/challenges", h.ListChallenges)
		r.Get("/leaderboard", h.Leaderboard)
		r.Get("/users/search", h.SearchUsers)

		// Admin repair
		r.Post("/admin/stats/recompute", h.RecomputeStats)
		r.Post("/admin/seasons/backfill", h.BackfillSeasons)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Infow("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt signals.
func (s *Server) Run() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.log.Infow("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.log.Infow("server stopped")
	return nil
}
