// Package server exposes the HTTP API: document submission, status
// lookups and live streams, search, cancellation, and Prometheus
// metrics. Handlers never block on ingestion beyond status reads; slow
// work happens on the pipeline's own pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petrel-search/petrel/internal/config"
	"github.com/petrel-search/petrel/internal/events"
	"github.com/petrel-search/petrel/internal/search"
	"github.com/petrel-search/petrel/internal/status"
	"github.com/petrel-search/petrel/internal/store"
)

// ErrNilDependency is returned by New when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Default timeouts for the HTTP server. Streaming endpoints manage
// their own lifetimes, so there is no server-wide write timeout.
const (
	defaultReadTimeout     = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Config holds the HTTP surface settings.
type Config struct {
	// Addr is the listen address.
	Addr string

	// CORSOrigins is the cross-origin allow-list. Empty denies all
	// cross-origin requests; "*" must be listed explicitly to allow
	// every origin.
	CORSOrigins []string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// ConfigFrom derives server settings from the application config.
func ConfigFrom(app *config.Config) Config {
	return Config{
		Addr:        app.Server.BindAddr,
		CORSOrigins: app.Server.CORSOrigins,
	}
}

// Ingestor accepts and cancels document submissions.
type Ingestor interface {
	Submit(ctx context.Context, path, filename string) (status.ProcessingStatus, error)
	Cancel(docID string) bool
}

// QueryService answers search requests.
type QueryService interface {
	Search(ctx context.Context, query string, opts search.Options) (search.Response, error)
}

// StatusReader serves status lookups and queue listings.
type StatusReader interface {
	Get(docID string) (status.ProcessingStatus, error)
	ListAll(limit int) []status.ProcessingStatus
	CountByState() map[status.State]int
}

// CollectionCounter reports store sizes for the health endpoint.
type CollectionCounter interface {
	Count(c store.Collection) int
}

// Deps carries the server's collaborators. Bus and Logger are optional;
// without a Bus the stream endpoints report unavailable.
type Deps struct {
	Ingestor Ingestor
	Search   QueryService
	Status   StatusReader
	Store    CollectionCounter
	Bus      *events.Bus[status.ProcessingStatus]
	Logger   *slog.Logger
}

// Server is the HTTP API server. Safe for concurrent use.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	router *chi.Mux

	mu     sync.Mutex
	server *http.Server
}

// New builds the server and its routes.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Ingestor == nil {
		return nil, fmt.Errorf("%w: ingestor", ErrNilDependency)
	}
	if deps.Search == nil {
		return nil, fmt.Errorf("%w: search", ErrNilDependency)
	}
	if deps.Status == nil {
		return nil, fmt.Errorf("%w: status", ErrNilDependency)
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store", ErrNilDependency)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.cfg.CORSOrigins))

	r.Post("/process", s.handleProcess)
	r.Post("/search", s.handleSearch)
	r.Post("/cancel/{doc_id}", s.handleCancel)

	r.Route("/status", func(r chi.Router) {
		r.Get("/queue", s.handleQueue)
		r.Get("/health", s.handleHealth)
		r.Get("/stream", s.handleStream)
		r.Get("/{doc_id}", s.handleStatus)
	})

	r.Get("/ws/status", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and blocks until Shutdown or
// a listener error. ErrServerClosed is not an error.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.router,
		ReadTimeout: defaultReadTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}
