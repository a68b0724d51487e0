// Package metrics exposes Prometheus collectors for the crawler service.
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
	crawlerPagesTotal                    *prometheus.CounterVec
	crawlerBytesTotal                    *prometheus.CounterVec
	httpRequestsTotal                    *prometheus.CounterVec
	httpRequestDurationSeconds           *prometheus.HistogramVec
	crawlerProbeTLSHandshakeTimeoutTotal prometheus.Counter
	sitemapRunsTotal                     *prometheus.CounterVec
	sitemapRowsTotal                     *prometheus.CounterVec
	sitemapRunDurationSeconds            prometheus.Histogram
	pageExtractionsTotal                 *prometheus.CounterVec
	rateLimitDelaySeconds                *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages crawled, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
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

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		crawlerProbeTLSHandshakeTimeoutTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_probe_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while probing robots.txt.",
			},
		)

		sitemapRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemap_runs_total",
				Help: "Total number of sitemap crawls, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		sitemapRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemap_rows_total",
				Help: "Total number of sitemap rows collected, labeled by site.",
			},
			[]string{"site"},
		)

		sitemapRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitemap_run_duration_seconds",
				Help:    "Histogram of sitemap crawl durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		pageExtractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "page_extractions_total",
				Help: "Total number of single-page extractions, labeled by site and mode.",
			},
			[]string{"site", "mode"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by site.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"site"},
		)
	})
}

// UnknownSite labels observations that cannot be tied to a known host.
const UnknownSite = "unknown"

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns UnknownSite if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return UnknownSite
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawl increments the crawler metrics.
func ObserveCrawl(site string, status string, bytesFetched int) {
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout increments the probe-specific handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	crawlerProbeTLSHandshakeTimeoutTotal.Inc()
}

// ObserveSitemapRun records one finished sitemap crawl.
func ObserveSitemapRun(site string, status string, rows int, duration time.Duration) {
	sanitizedSite := SanitizeSite(site)
	sitemapRunsTotal.WithLabelValues(sanitizedSite, status).Inc()
	if rows > 0 {
		sitemapRowsTotal.WithLabelValues(sanitizedSite).Add(float64(rows))
	}
	sitemapRunDurationSeconds.Observe(duration.Seconds())
}

// ObservePageExtraction counts a single-page extraction. Mode is "static" or
// "rendered".
func ObservePageExtraction(site string, mode string) {
	pageExtractionsTotal.WithLabelValues(SanitizeSite(site), mode).Inc()
}

// ObserveRateLimitDelay records time spent waiting for a rate limit token.
func ObserveRateLimitDelay(site string, delay time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(delay.Seconds())
}
