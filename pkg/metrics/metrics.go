// Package metrics defines the Prometheus collectors shared by the scrape
// pipeline, the task worker and the API server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openpuc/scrapers/pkg/storage"
)

const namespace = "openpuc"

var (
	// Registry holds every collector of this process
	Registry = prometheus.NewRegistry()

	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Finished scrape runs by scraper and final status.",
	}, []string{"scraper", "status"})

	CasesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cases_total",
		Help:      "Cases processed by scraper and result (ok, failed).",
	}, []string{"scraper", "result"})

	CaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "case_duration_seconds",
		Help:      "Time to fetch, parse and store one case.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"scraper"})

	StorageOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_operations_total",
		Help:      "Storage operations per backend, operation and result.",
	}, []string{"backend", "op", "result"})

	TasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Queue task events (enqueued, consumed, acked, retried, dead, released, expired) by task kind.",
	}, []string{"kind", "event"})

	PostsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "posts_total",
		Help:      "Chunks posted to the downstream endpoint by result.",
	}, []string{"result"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "API request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RunsTotal,
		CasesTotal,
		CaseDuration,
		StorageOpsTotal,
		TasksTotal,
		PostsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler exposes the registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// ObserveStorage is a storage.Observer recording per-backend outcomes
func ObserveStorage(op string, r storage.Result) {
	result := "ok"
	if !r.Success {
		result = "error"
	}
	StorageOpsTotal.WithLabelValues(r.BackendName, op, result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Middleware tracks HTTP request metrics keyed by chi route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil && routeCtx.RoutePattern() != "" {
			route = routeCtx.RoutePattern()
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
