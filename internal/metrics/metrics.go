// Package metrics exposes Prometheus collectors for the analysis service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	analysisRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_requests_total",
			Help: "Total number of analysis submissions, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_cache_operations_total",
			Help: "Total cache operations, labeled by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	engineRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_engine_requests_total",
			Help: "Total engine calls, labeled by operation and failure class.",
		},
		[]string{"op", "class"},
	)

	engineRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_engine_retries_total",
			Help: "Total engine call retries, labeled by operation.",
		},
		[]string{"op"},
	)

	callbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_callbacks_total",
			Help: "Total engine callbacks received, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	notificationsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "analysis_notifications_published_total",
			Help: "Total terminal-state notifications published.",
		},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveAnalysisRequest records one submission with its outcome
// (accepted, cached, or an error code).
func ObserveAnalysisRequest(outcome string) {
	analysisRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheOperation records a cache round trip outcome (hit, miss, error).
func ObserveCacheOperation(op, outcome string) {
	cacheOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveEngineRequest records one engine call with "ok" or its failure class.
func ObserveEngineRequest(op, class string) {
	engineRequestsTotal.WithLabelValues(op, class).Inc()
}

// ObserveEngineRetry counts a retried engine call.
func ObserveEngineRetry(op string) {
	engineRetriesTotal.WithLabelValues(op).Inc()
}

// ObserveCallback records a received callback with its outcome
// (applied, duplicate, unresolved, invalid).
func ObserveCallback(outcome string) {
	callbacksTotal.WithLabelValues(outcome).Inc()
}

// ObserveNotification counts a published terminal-state notification.
func ObserveNotification() {
	notificationsPublishedTotal.Inc()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
