// Package metrics exposes Prometheus collectors for the storefinder service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchRequestsTotal            *prometheus.CounterVec
	fetchBytesTotal               *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	activeWorkers                 prometheus.Gauge
	rateLimitDelaysSeconds        *prometheus.HistogramVec
	sessionsSweptTotal            prometheus.Counter
	searchesRejectedTotal         *prometheus.CounterVec
	crawlerProbeTLSHandshakeTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefinder_fetch_requests_total",
				Help: "Search page requests, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefinder_fetch_bytes_total",
				Help: "Bytes fetched from search pages, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefinder_http_requests_total",
				Help: "API requests, labeled by method, route pattern and status code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storefinder_http_request_duration_seconds",
				Help:    "API request latency, labeled by method and route pattern.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "storefinder_active_workers",
				Help: "Number of workers currently running a search.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storefinder_rate_limit_delays_seconds",
				Help:    "Histogram of politeness limiter wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		sessionsSweptTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storefinder_sessions_swept_total",
				Help: "Finished search sessions deleted by the reaper.",
			},
		)

		searchesRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storefinder_searches_rejected_total",
				Help: "Search submissions rejected before scheduling, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerProbeTLSHandshakeTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storefinder_fetch_tls_handshake_timeout_total",
				Help: "TLS handshake timeouts encountered while fetching search pages.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one search page request. status is an HTTP code or a
// transport failure label.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchRequestsTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveTLSHandshakeTimeout increments the handshake timeout counter.
func ObserveTLSHandshakeTimeout() {
	Init()
	crawlerProbeTLSHandshakeTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveSweep adds the number of sessions removed by one reaper pass.
func ObserveSweep(n int) {
	Init()
	if n > 0 {
		sessionsSweptTotal.Add(float64(n))
	}
}

// ObserveRejectedSearch counts a refused submission.
func ObserveRejectedSearch(reason string) {
	Init()
	searchesRejectedTotal.WithLabelValues(reason).Inc()
}
