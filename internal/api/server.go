// Package api serves the published score table over read-only HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/county-risk/internal/config"
	"github.com/sells-group/county-risk/internal/lender"
	"github.com/sells-group/county-risk/internal/model"
	"github.com/sells-group/county-risk/internal/store"
)

// Reader is the part of the store the API reads.
type Reader interface {
	ListScores(ctx context.Context, filter store.ScoreFilter) ([]model.ScoredEntity, error)
	GetScore(ctx context.Context, entityID string) (*model.ScoredEntity, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	ListLenders(ctx context.Context, limit int) ([]lender.Profile, error)
	ListCountyLenders(ctx context.Context, entityID string) ([]lender.CountySignal, error)
}

// Server is the HTTP API server.
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    config.ServerConfig
}

// NewServer wires the routes. gatherer backs /metrics; nil uses the default
// Prometheus registry.
func NewServer(cfg config.ServerConfig, st Reader, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := NewHandler(st)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(RecoverMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader, TraceIDHeader},
		MaxAge:         300,
	}))
	r.Use(TracingMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Compress(5))

	r.Get("/health", h.Health)
	r.Get("/dictionary", h.Dictionary)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/scores", func(r chi.Router) {
		r.Get("/", h.ListScores)
		r.Get("/{entityID}", h.GetScore)
		r.Get("/{entityID}/lenders", h.CountyLenders)
	})
	r.Get("/runs", h.ListRuns)
	r.Get("/lenders", h.ListLenders)

	return &Server{
		router: r,
		cfg:    cfg,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// Start listens until Shutdown is called. It returns http.ErrServerClosed
// after a graceful shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
