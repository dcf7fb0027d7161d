// Package api serves health checks, metrics and the run API over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/openpuc/scrapers/pkg/metrics"
	"github.com/openpuc/scrapers/pkg/queue"
	"github.com/openpuc/scrapers/pkg/store"
)

// Server holds the API dependencies
type Server struct {
	store  *store.Store
	queue  *queue.Queue
	secret []byte
	logger zerolog.Logger
	now    func() time.Time
}

// New creates an API server. An empty secret leaves mutating routes open.
func New(st *store.Store, q *queue.Queue, jwtSecret string, logger zerolog.Logger) *Server {
	return &Server{
		store:  st,
		queue:  q,
		secret: []byte(jwtSecret),
		logger: logger.With().Str("component", "api").Logger(),
		now:    time.Now,
	}
}

// Router builds the HTTP routes
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/scrapers", s.handleScrapers)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleRunsList)
			r.With(RequireJWT(s.secret)).Post("/", s.handleRunsCreate)
			r.Get("/{runID}", s.handleRunsGet)
			r.Get("/{runID}/cases", s.handleRunCases)
		})
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.logger.Info().Msg("shutting down api server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func pingRedis(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
