package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefinder/internal/crawler"
	"github.com/JakeFAU/storefinder/internal/metrics"
	"github.com/JakeFAU/storefinder/internal/store"
)

const (
	defaultRequestTimeout = 30 * time.Second
	ownerHeader           = "X-Owner-ID"
)

// SearchService is the search lifecycle the API exposes. search.Manager
// implements it.
type SearchService interface {
	Start(ctx context.Context, owner string, groups []crawler.QueryGroup) (crawler.SearchRef, error)
	Stop(ctx context.Context, ref crawler.SearchRef, force bool) error
	Poll(ctx context.Context, ref crawler.SearchRef) (crawler.Snapshot, error)
	Result(ctx context.Context, ref crawler.SearchRef) (crawler.ResultSet, bool, error)
	Queries(ctx context.Context, ref crawler.SearchRef) ([]crawler.QueryGroup, error)
	Ready(ctx context.Context) error
}

// Options configures a Server. Searches is required; Runs is optional.
type Options struct {
	Searches       SearchService
	Runs           store.RunReader
	Logger         *zap.Logger
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	// MaxBodyBytes caps request bodies; zero means 1 MiB.
	MaxBodyBytes int64
}

// Server wires HTTP handlers to the search manager.
type Server struct {
	router   chi.Router
	searches SearchService
	runs     store.RunReader
	logger   *zap.Logger
	maxBody  int64
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	s := &Server{
		searches: opts.Searches,
		runs:     opts.Runs,
		logger:   logger.Named("api"),
		maxBody:  maxBody,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/searches", func(r chi.Router) {
		if opts.AuthEnabled {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Use(ownerMiddleware)
		r.Post("/", s.startSearch)
		r.Route("/{search_id}", func(r chi.Router) {
			r.Get("/", s.describeSearch)
			r.Post("/stop", s.stopSearch)
			r.Get("/messages", s.pollSearch)
			r.Get("/result", s.searchResult)
			r.Get("/run", s.searchRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.searches.Ready(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
