// Package metrics exposes Prometheus collectors for the avatar service.
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
	avatarIngestsTotal         *prometheus.CounterVec
	avatarBytesTotal           *prometheus.CounterVec
	avatarIngestDuration       *prometheus.HistogramVec
	avatarRetriesTotal         prometheus.Counter
	avatarEnqueuedTotal        *prometheus.CounterVec
	avatarActiveWorkers        prometheus.Gauge
	avatarPublishFailuresTotal prometheus.Counter
	avatarRateLimitDelay       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		avatarIngestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avatar_ingests_total",
				Help: "Total number of avatar ingest runs, labeled by source host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		avatarBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avatar_bytes_total",
				Help: "Total number of avatar bytes attached, labeled by source host.",
			},
			[]string{"host"},
		)

		avatarIngestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "avatar_ingest_duration_seconds",
				Help:    "Histogram of avatar ingest latencies, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"outcome"},
		)

		avatarRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "avatar_retries_total",
				Help: "Total number of avatar ingest retries.",
			},
		)

		avatarEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "avatar_enqueued_total",
				Help: "Total number of avatar requests enqueued, labeled by source.",
			},
			[]string{"source"},
		)

		avatarActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "avatar_active_workers",
				Help: "Number of workers currently processing an avatar request.",
			},
		)

		avatarPublishFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "avatar_publish_failures_total",
				Help: "Total number of avatar events that could not be published.",
			},
		)

		avatarRateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "avatar_rate_limit_delay_seconds",
				Help:    "Time avatar fetches spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)

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
	})
}

// SanitizeHost extracts a lowercase hostname for use as a label.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveIngest records one finished ingest run.
func ObserveIngest(rawURL, outcome string, bytesAttached int64, duration time.Duration) {
	Init()
	host := SanitizeHost(rawURL)
	avatarIngestsTotal.WithLabelValues(host, outcome).Inc()
	avatarIngestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if bytesAttached > 0 {
		avatarBytesTotal.WithLabelValues(host).Add(float64(bytesAttached))
	}
}

// ObserveRetry increments the retry counter.
func ObserveRetry() {
	Init()
	avatarRetriesTotal.Inc()
}

// ObserveEnqueued counts requests accepted for processing.
func ObserveEnqueued(source string, n int) {
	Init()
	if n <= 0 {
		return
	}
	avatarEnqueuedTotal.WithLabelValues(source).Add(float64(n))
}

// ObservePublishFailure increments the publish failure counter.
func ObservePublishFailure() {
	Init()
	avatarPublishFailuresTotal.Inc()
}

// ObserveRateLimitDelay records how long a fetch waited for its host's token.
func ObserveRateLimitDelay(host string, delay time.Duration) {
	Init()
	avatarRateLimitDelay.WithLabelValues(host).Observe(delay.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	avatarActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	avatarActiveWorkers.Dec()
}
