// Package httpserver exposes a read-only status API over the migration
// engine: health, listing, planned steps and the live schema.
package httpserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dbmigrator/internal/config"
	"dbmigrator/internal/migrate"
)

// Session is one provider run. Each request opens its own and closes it
// before responding.
type Session interface {
	migrate.Provider
	Ping(ctx context.Context) error
	Close() error
}

// Opener starts a Session against the configured database.
type Opener func(ctx context.Context) (Session, error)

type Server struct {
	cfg              config.HTTP
	logger           *slog.Logger
	healthHandler    HealthHandler
	migrationHandler *MigrationHandler
	schemaHandler    *SchemaHandler
}

func New(cfg config.HTTP, logger *slog.Logger, open Opener, catalog migrate.Catalog, schema string) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		cfg:              cfg,
		logger:           logger,
		healthHandler:    HealthHandler{Open: open},
		migrationHandler: NewMigrationHandler(open, catalog, schema, logger),
		schemaHandler:    NewSchemaHandler(open, logger),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) Start(ctx context.Context) error {
	r := s.routes()
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.cfg.Address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(RequestLogger(s.logger))

	r.Route("/api/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/health", s.healthHandler)
		api.Get("/migrations", s.migrationHandler.List)
		api.Get("/plan", s.migrationHandler.Plan)
		api.Get("/schema", s.schemaHandler.Get)
	})

	return r
}
