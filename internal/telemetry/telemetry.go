// Package telemetry owns the Prometheus metrics exported by the analyzer.
package telemetry

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
	scrapeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_scrape_attempts_total",
			Help: "Scrape attempts, labeled by source, agent and outcome.",
		},
		[]string{"source", "agent", "outcome"},
	)

	scrapeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyzer_scrape_duration_seconds",
			Help:    "Duration of a full agent run including retries.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"source", "agent"},
	)

	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_cache_lookups_total",
			Help: "Scrape cache lookups, labeled by source and result (hit, miss, error).",
		},
		[]string{"source", "result"},
	)

	identityCooldownsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_identity_cooldowns_total",
			Help: "Identities put on cooldown after a block, labeled by source.",
		},
		[]string{"source"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "analyzer_rate_limit_delay_seconds",
			Help:    "Time spent waiting on per-source pacing.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	predictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_predictions_total",
			Help: "Pipeline invocations, labeled by outcome kind.",
		},
		[]string{"outcome"},
	)

	predictionDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analyzer_prediction_duration_seconds",
			Help:    "End-to-end pipeline latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)

	bundleInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "analyzer_bundle_info",
			Help: "Currently served artifact bundle; value is 1 for the active version.",
		},
		[]string{"version", "schema"},
	)

	bundleReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyzer_bundle_reloads_total",
			Help: "Artifact bundle reload attempts, labeled by result.",
		},
		[]string{"result"},
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "route"},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest records metrics for an HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveScrapeAttempt counts one agent attempt. outcome is "ok" or a failure kind name.
func ObserveScrapeAttempt(source, agent, outcome string) {
	scrapeAttemptsTotal.WithLabelValues(source, agent, outcome).Inc()
}

// ObserveScrapeDuration records a complete agent run.
func ObserveScrapeDuration(source, agent string, d time.Duration) {
	scrapeDurationSeconds.WithLabelValues(source, agent).Observe(d.Seconds())
}

// ObserveCacheLookup records a cache hit, miss or error.
func ObserveCacheLookup(source, result string) {
	cacheLookupsTotal.WithLabelValues(source, result).Inc()
}

// ObserveIdentityCooldown counts an identity cooled down for source.
func ObserveIdentityCooldown(source string) {
	identityCooldownsTotal.WithLabelValues(source).Inc()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(source string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(source).Observe(d.Seconds())
}

// ObservePrediction records an end-to-end pipeline run.
func ObservePrediction(outcome string, d time.Duration) {
	predictionsTotal.WithLabelValues(outcome).Inc()
	predictionDurationSeconds.Observe(d.Seconds())
}

// SetActiveBundle publishes the active bundle version, clearing the previous one.
func SetActiveBundle(version, schema string) {
	bundleInfo.Reset()
	bundleInfo.WithLabelValues(version, schema).Set(1)
}

// ObserveBundleReload counts a reload attempt; result is "ok", "invalid" or "error".
func ObserveBundleReload(result string) {
	bundleReloadsTotal.WithLabelValues(result).Inc()
}
