// Package web provides the HTTP API surface of the listening analytics
// engine.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tunetally/tunetally/internal/analytics"
	"github.com/tunetally/tunetally/internal/library"
	"github.com/tunetally/tunetally/internal/recommend"
	"github.com/tunetally/tunetally/internal/recorder"
	"github.com/tunetally/tunetally/internal/streaks"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr      string
	Recorder  *recorder.Service
	Analytics *analytics.Aggregator
	Streaks   *streaks.Tracker
	Library   *library.Index
	Recommend *recommend.Generator
}

// Server is the HTTP server for the analytics API.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	handlers := NewHandlers(cfg.Recorder, cfg.Analytics, cfg.Streaks, cfg.Library, cfg.Recommend)

	router := chi.NewRouter()

	s := &Server{
		router:   router,
		handlers: handlers,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        cfg.Addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: the live analytics stream holds its response
		// open until the client goes away.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures routes for the API.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handlers.Health)

	s.router.Route("/api", func(r chi.Router) {
		// Playback transport events
		r.Post("/playback/start", s.handlers.PlaybackStart)
		r.Post("/playback/progress", s.handlers.PlaybackProgress)
		r.Post("/playback/stop", s.handlers.PlaybackStop)

		// Remote charts (fused against the caller's library)
		r.Get("/charts/global", s.handlers.GlobalChart)
		r.Get("/charts/{countryCode}", s.handlers.CountryChart)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/analytics/live", s.handlers.LiveListeningTime)
			r.Get("/analytics/{month}", s.handlers.MonthlyAnalytics)
			r.Get("/analytics/{month}/top-songs", s.handlers.TopSongs)
			r.Get("/analytics/{month}/top-artists", s.handlers.TopArtists)

			r.Get("/streaks", s.handlers.ActiveStreaks)
			r.Get("/streaks/top", s.handlers.TopStreaks)
			r.Post("/streaks/cleanup", s.handlers.CleanupStreaks)

			r.Get("/recommendations", s.handlers.Recommendations)

			r.Get("/library", s.handlers.Library)
			r.Put("/library/{songID}/like", s.handlers.SetLiked)

			r.Post("/downloads", s.handlers.PersistDownload)
			r.Get("/downloads/{onlineID}", s.handlers.IsDownloaded)
		})
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	log.Printf("Starting server at http://%s", s.server.Addr)
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

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		log.Println("Shutting down server...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}
