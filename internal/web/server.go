// Package web exposes the tracker, the statistics queries and the recap
// generator over a small JSON API.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/justestif/go-listening-tracker/internal/clock"
	"github.com/justestif/go-listening-tracker/internal/enrich"
	"github.com/justestif/go-listening-tracker/internal/recap"
	"github.com/justestif/go-listening-tracker/internal/stats"
	metasync "github.com/justestif/go-listening-tracker/internal/sync"
	"github.com/justestif/go-listening-tracker/internal/tracker"
)

// DefaultAddr is the default server address.
const DefaultAddr = "127.0.0.1:8765"

// Syncer runs a metadata backfill.
type Syncer interface {
	SyncMetadata(ctx context.Context, force bool) (*metasync.SyncResult, error)
}

// ClientIDSetter accepts a SoundCloud client id discovered at runtime.
type ClientIDSetter interface {
	SetClientID(ctx context.Context, id string) error
}

// ServerConfig holds server configuration. Sync, Artists and ClientID may be
// nil when no enrichment source is configured.
type ServerConfig struct {
	Addr     string
	Tracker  *tracker.Tracker
	Stats    *stats.Store
	Recaps   *recap.Service
	Sync     Syncer
	Artists  enrich.ArtistResolver
	ClientID ClientIDSetter
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Server is the HTTP server for the API.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	logger   *slog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		router: chi.NewRouter(),
		handlers: &Handlers{
			tracker:  cfg.Tracker,
			stats:    cfg.Stats,
			recaps:   cfg.Recaps,
			sync:     cfg.Sync,
			artists:  cfg.Artists,
			clientID: cfg.ClientID,
			clock:    cfg.Clock,
			logger:   cfg.Logger,
		},
		logger: cfg.Logger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
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

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.Get("/health", h.Health)

	s.router.Route("/events", func(r chi.Router) {
		r.Post("/playing", h.Playing)
		r.Post("/changed", h.Changed)
		r.Post("/paused", h.Paused)
		r.Post("/ended", h.Ended)
		r.Post("/tab-closed", h.TabClosed)
	})

	s.router.Get("/status", h.Status)
	s.router.Put("/tracking", h.SetTracking)

	s.router.Route("/stats", func(r chi.Router) {
		r.Get("/top", h.TopTracks)
		r.Get("/total", h.Totals)
		r.Get("/daily", h.Daily)
		r.Get("/patterns", h.Patterns)
		r.Get("/tracks/{id}", h.TrackDetails)
	})

	s.router.Post("/recaps/{year}", h.GenerateRecap)
	s.router.Get("/recaps/{year}", h.SavedRecap)

	s.router.Get("/artists/{id}", h.Artist)

	s.router.Post("/sync", h.Sync)
	s.router.Put("/soundcloud/client-id", h.SetClientID)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", "http://"+s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
