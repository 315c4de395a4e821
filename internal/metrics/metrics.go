// Package metrics exposes Prometheus collectors for the sitegrab service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal             *prometheus.CounterVec
	jobDurationSeconds    *prometheus.HistogramVec
	pagesCrawledTotal     *prometheus.CounterVec
	pagesExtractedTotal   *prometheus.CounterVec
	imagesStoredTotal     prometheus.Counter
	imagesSupersededTotal prometheus.Counter
	imageBytesTotal       prometheus.Counter
	activeJobs            prometheus.Gauge
	sseSubscribers        prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitegrab_jobs_total",
				Help: "Jobs finished, labeled by kind and terminal status.",
			},
			[]string{"kind", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitegrab_job_duration_seconds",
				Help:    "Wall time from job creation to terminal state.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"kind"},
		)

		pagesCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitegrab_pages_crawled_total",
				Help: "Pages accepted by the crawler, labeled by site.",
			},
			[]string{"site"},
		)

		pagesExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitegrab_pages_extracted_total",
				Help: "Per-page extraction outcomes, labeled by result.",
			},
			[]string{"result"},
		)

		imagesStoredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitegrab_images_stored_total",
				Help: "Image payloads accepted as best-of-key by the registry.",
			},
		)

		imagesSupersededTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitegrab_images_superseded_total",
				Help: "Stored payloads replaced by a higher-scoring representation.",
			},
		)

		imageBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitegrab_image_bytes_total",
				Help: "Total image payload bytes written to temporary storage.",
			},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitegrab_active_jobs",
				Help: "Jobs currently running.",
			},
		)

		sseSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitegrab_sse_subscribers",
				Help: "Open progress stream subscriptions.",
			},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SanitizeSite reduces a URL to a lowercase hostname label, or "unknown".
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

// ObserveJobFinished records a terminal job transition.
func ObserveJobFinished(kind, status string, duration time.Duration) {
	jobsTotal.WithLabelValues(kind, status).Inc()
	jobDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObservePageCrawled counts one accepted crawl page.
func ObservePageCrawled(site string) {
	pagesCrawledTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveExtraction counts one per-page extraction outcome ("ok", "empty", "error").
func ObserveExtraction(result string) {
	pagesExtractedTotal.WithLabelValues(result).Inc()
}

// ObserveImageStored counts a payload write; superseded marks replacement of
// a previously stored representation.
func ObserveImageStored(bytes int, superseded bool) {
	imagesStoredTotal.Inc()
	imageBytesTotal.Add(float64(bytes))
	if superseded {
		imagesSupersededTotal.Inc()
	}
}

// IncActiveJobs increments the running-jobs gauge.
func IncActiveJobs() { activeJobs.Inc() }

// DecActiveJobs decrements the running-jobs gauge.
func DecActiveJobs() { activeJobs.Dec() }

// IncSSESubscribers increments the subscriber gauge.
func IncSSESubscribers() { sseSubscribers.Inc() }

// DecSSESubscribers decrements the subscriber gauge.
func DecSSESubscribers() { sseSubscribers.Dec() }
