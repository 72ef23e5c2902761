// Package metrics exposes Prometheus collectors for the API, workers and scrapers.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	stepDurationSeconds        *prometheus.HistogramVec
	scrapePagesTotal           *prometheus.CounterVec
	scrapeListingsTotal        *prometheus.CounterVec
	rateLimitDecisionsTotal    *prometheus.CounterVec
	deliveryFailuresTotal      prometheus.Counter
	activeWorkers              prometheus.Gauge
	hostThrottleDelaySeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
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

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobsai_jobs_total",
				Help: "Pipelines finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		stepDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobsai_step_duration_seconds",
				Help:    "Pipeline step durations, labeled by step and outcome.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"step", "outcome"},
		)

		scrapePagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobsai_scrape_pages_total",
				Help: "Search result pages fetched, labeled by board and outcome.",
			},
			[]string{"board", "outcome"},
		)

		scrapeListingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobsai_scrape_listings_total",
				Help: "Listings extracted, labeled by board.",
			},
			[]string{"board"},
		)

		rateLimitDecisionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobsai_rate_limit_decisions_total",
				Help: "Rate limiter decisions, labeled by outcome (allowed, rejected, degraded).",
			},
			[]string{"outcome"},
		)

		deliveryFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobsai_delivery_failures_total",
				Help: "Result deliveries that failed after a job completed.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobsai_active_workers",
				Help: "Number of workers currently running a pipeline.",
			},
		)

		hostThrottleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jobsai_host_throttle_delay_seconds",
				Help:    "Time spent waiting on per-host politeness limits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from rawURL, or "unknown".
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
	Init()
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob counts a pipeline that reached a terminal status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveStep records how long a pipeline step ran.
func ObserveStep(step, outcome string, duration time.Duration) {
	Init()
	stepDurationSeconds.WithLabelValues(step, outcome).Observe(duration.Seconds())
}

// ObserveScrapePage counts a fetched result page.
func ObserveScrapePage(board, outcome string) {
	Init()
	scrapePagesTotal.WithLabelValues(board, outcome).Inc()
}

// ObserveListings counts extracted listings.
func ObserveListings(board string, n int) {
	Init()
	if n > 0 {
		scrapeListingsTotal.WithLabelValues(board).Add(float64(n))
	}
}

// ObserveRateLimit counts a limiter decision.
func ObserveRateLimit(outcome string) {
	Init()
	rateLimitDecisionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDeliveryFailure counts a failed delivery.
func ObserveDeliveryFailure() {
	Init()
	deliveryFailuresTotal.Inc()
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

// ObserveThrottleDelay records a per-host politeness wait.
func ObserveThrottleDelay(host string, duration time.Duration) {
	Init()
	hostThrottleDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
