// Package metrics exposes Prometheus collectors for the docpress service.
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
	pagesTotal                *prometheus.CounterVec
	bytesTotal                *prometheus.CounterVec
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	jobsTotal                 *prometheus.CounterVec
	activeWorkers             prometheus.Gauge
	headlessPromotionsTotal   prometheus.Counter
	blocksDroppedTotal        *prometheus.CounterVec
	rateLimitDelaysSeconds    *prometheus.HistogramVec
	artifactSizeBytes         prometheus.Histogram
	jobDurationSeconds        *prometheus.HistogramVec
	fetchRetriesTotal         prometheus.Counter
	robotsDisallowedTotal     prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docpress_pages_total",
				Help: "Total number of pages crawled, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docpress_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docpress_jobs_total",
				Help: "Total number of jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docpress_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		headlessPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docpress_headless_promotions_total",
				Help: "Total pages refetched with a headless browser.",
			},
		)

		blocksDroppedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docpress_blocks_dropped_total",
				Help: "Total content blocks dropped, labeled by reason.",
			},
			[]string{"reason"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docpress_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		artifactSizeBytes = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docpress_artifact_size_bytes",
				Help:    "Histogram of generated artifact sizes.",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docpress_job_duration_seconds",
				Help:    "Histogram of end-to-end job durations, labeled by status.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"status"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docpress_fetch_retries_total",
				Help: "Total fetch attempts retried after transient failures.",
			},
		)

		robotsDisallowedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "docpress_robots_disallowed_total",
				Help: "Total URLs skipped because robots.txt disallowed them.",
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

// ObserveCrawl increments the crawl metrics.
func ObserveCrawl(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	pagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		bytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveJobDuration records the end-to-end duration of a finished job.
func ObserveJobDuration(status string, duration time.Duration) {
	jobDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHeadlessPromotion counts a page refetched with the headless browser.
func ObserveHeadlessPromotion() {
	headlessPromotionsTotal.Inc()
}

// ObserveBlocksDropped counts deduplicated content blocks by reason.
func ObserveBlocksDropped(reason string, n int) {
	if n > 0 {
		blocksDroppedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveArtifactSize records the size of a generated artifact.
func ObserveArtifactSize(sizeBytes int64) {
	artifactSizeBytes.Observe(float64(sizeBytes))
}

// ObserveFetchRetry counts a retried fetch attempt.
func ObserveFetchRetry() {
	fetchRetriesTotal.Inc()
}

// ObserveRobotsDisallowed counts a URL skipped per robots.txt.
func ObserveRobotsDisallowed() {
	robotsDisallowedTotal.Inc()
}
