// Package metrics exposes Prometheus collectors for the scanner service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitescope/scanner/internal/scan"
)

var (
	scansTotal                 *prometheus.CounterVec
	scanDurationSeconds        *prometheus.HistogramVec
	scanPagesTotal             *prometheus.CounterVec
	engineReportsTotal         *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	activeScans                prometheus.Gauge
	scorerRequestsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_scans_total",
				Help: "Total number of scans run, labeled by mode and report status.",
			},
			[]string{"mode", "status"},
		)

		scanDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanner_scan_duration_seconds",
				Help:    "Histogram of end-to-end scan durations, labeled by mode.",
				Buckets: []float64{5, 10, 20, 40, 60, 90, 120, 180},
			},
			[]string{"mode"},
		)

		scanPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_pages_total",
				Help: "Total number of pages visited, labeled by site and page status.",
			},
			[]string{"site", "status"},
		)

		engineReportsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_engine_reports_total",
				Help: "Engine outcomes per scan, labeled by engine and availability.",
			},
			[]string{"engine", "status"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_jobs_total",
				Help: "Total number of async jobs processed, labeled by terminal status.",
			},
			[]string{"status"},
		)

		activeScans = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanner_active_scans",
				Help: "Number of scans currently in flight.",
			},
		)

		scorerRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_scorer_requests_total",
				Help: "Upstream scorer fetches, labeled by outcome.",
			},
			[]string{"outcome"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
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

// ObserveScan records one finished scan.
func ObserveScan(mode string, status string, duration time.Duration) {
	scansTotal.WithLabelValues(mode, status).Inc()
	scanDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObservePage records one visited page.
func ObservePage(site string, status string) {
	scanPagesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveEngine records one engine outcome.
func ObserveEngine(engine string, status string) {
	engineReportsTotal.WithLabelValues(engine, status).Inc()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveScorerRequest records one upstream scorer fetch outcome.
func ObserveScorerRequest(outcome string) {
	scorerRequestsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveScans increments the in-flight scan gauge.
func IncActiveScans() {
	activeScans.Inc()
}

// DecActiveScans decrements the in-flight scan gauge.
func DecActiveScans() {
	activeScans.Dec()
}

// ObserveReport records the scan counters derived from one finished report.
func ObserveReport(report scan.Report, mode string, duration time.Duration) {
	ObserveScan(mode, string(report.Status), duration)
	for _, page := range report.Pages {
		ObservePage(page.URL, string(page.Status))
	}
	ObserveEngine("accessibility", string(report.Engines.Accessibility.Status))
	ObserveEngine("performance", string(report.Engines.Performance.Status))
	ObserveEngine("seo", string(report.Engines.SEO.Status))
	ObserveEngine("best_practices", string(report.Engines.BestPractices.Status))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
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
