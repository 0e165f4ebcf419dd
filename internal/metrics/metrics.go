// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sessionsTotal       *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	pagesScannedTotal   prometheus.Counter
	pdfsDownloadedTotal prometheus.Counter
	pdfsDuplicateTotal  prometheus.Counter
	pdfsFilteredTotal   prometheus.Counter
	downloadBytesTotal  prometheus.Counter
	downloadErrorsTotal prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		sessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sessions_total",
				Help: "Total crawl sessions finished, labeled by terminal status.",
			},
			[]string{"status"},
		)
		activeSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_sessions",
				Help: "Number of sessions currently admitted.",
			},
		)
		pagesScannedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_pages_scanned_total",
				Help: "Total pages fetched during domain walks.",
			},
		)
		pdfsDownloadedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_pdfs_downloaded_total",
				Help: "Total PDF documents persisted.",
			},
		)
		pdfsDuplicateTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_pdfs_duplicate_total",
				Help: "Total downloads discarded as content-hash duplicates.",
			},
		)
		pdfsFilteredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_pdfs_filtered_total",
				Help: "Total candidate PDFs rejected by filters.",
			},
		)
		downloadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_download_bytes_total",
				Help: "Total bytes of PDF content written to storage.",
			},
		)
		downloadErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_download_errors_total",
				Help: "Total per-item download or persistence errors.",
			},
		)
	})
}

// Handler returns an http.Handler exposing the metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSessionFinished counts one finished session by terminal status.
func ObserveSessionFinished(status string) {
	if sessionsTotal != nil {
		sessionsTotal.WithLabelValues(status).Inc()
	}
}

// SetActiveSessions records the admitted-session count.
func SetActiveSessions(n int) {
	if activeSessions != nil {
		activeSessions.Set(float64(n))
	}
}

// AddPagesScanned counts pages fetched during walks.
func AddPagesScanned(n int) {
	if pagesScannedTotal != nil {
		pagesScannedTotal.Add(float64(n))
	}
}

// ObserveDownload counts one persisted document and its size.
func ObserveDownload(bytes int64) {
	if pdfsDownloadedTotal != nil {
		pdfsDownloadedTotal.Inc()
		downloadBytesTotal.Add(float64(bytes))
	}
}

// ObserveDuplicate counts one discarded duplicate download.
func ObserveDuplicate() {
	if pdfsDuplicateTotal != nil {
		pdfsDuplicateTotal.Inc()
	}
}

// ObserveFiltered counts one candidate rejected by filters.
func ObserveFiltered() {
	if pdfsFilteredTotal != nil {
		pdfsFilteredTotal.Inc()
	}
}

// ObserveDownloadError counts one per-item error.
func ObserveDownloadError() {
	if downloadErrorsTotal != nil {
		downloadErrorsTotal.Inc()
	}
}
