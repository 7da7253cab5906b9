package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the backend's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manga_reader",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "manga_reader",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	initAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manga_reader",
			Subsystem: "init",
			Name:      "attempts_total",
			Help:      "Database initialization attempts by result.",
		},
		[]string{"result"},
	)

	initStateGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "manga_reader",
			Subsystem: "init",
			Name:      "state",
			Help:      "Initialization state: 0 uninitialized, 1 initializing, 2 ready.",
		},
	)

	authVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manga_reader",
			Subsystem: "auth",
			Name:      "verifications_total",
			Help:      "Credential verifications by result.",
		},
		[]string{"result"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manga_reader",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		},
		[]string{"result"},
	)

	assetResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "manga_reader",
			Subsystem: "assets",
			Name:      "responses_total",
			Help:      "Asset responses by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		initAttempts,
		initStateGauge,
		authVerifications,
		loginAttempts,
		assetResponses,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// MetricsHandler exposes the registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// metricsMiddleware records request counts and latency.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// canonicalPath folds unbounded path families into one label value.
func canonicalPath(p string) string {
	switch {
	case strings.HasPrefix(p, "/uploads/"):
		return "/uploads/*"
	case strings.HasPrefix(p, "/api/admin/chapters/"):
		return "/api/admin/chapters/:id/pages"
	}
	return p
}
