// Package metrics provides Prometheus metrics for store client requests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Request metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeclient_requests_total",
			Help: "Total number of store API requests",
		},
		[]string{"operation", "method", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storeclient_request_duration_seconds",
			Help:    "Store API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	requestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeclient_request_errors_total",
			Help: "Store API requests that failed, by error class",
		},
		[]string{"operation", "class"},
	)

	// Content transfer metrics
	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storeclient_content_bytes_downloaded_total",
			Help: "Total bytes read from node content",
		},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storeclient_content_bytes_uploaded_total",
			Help: "Total bytes sent as node content",
		},
	)

	// Export metrics
	exportedFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeclient_exported_files_total",
			Help: "Files written to an export sink",
		},
		[]string{"sink", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusLabel returns the status label for a request. Requests that never got
// a response are labelled "none".
func StatusLabel(status int) string {
	if status == 0 {
		return "none"
	}
	return strconv.Itoa(status)
}

// RecordRequest records a completed or failed store request.
func RecordRequest(operation, method string, status int, duration time.Duration) {
	requestsTotal.WithLabelValues(operation, method, StatusLabel(status)).Inc()
	requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRequestError records a failed store request by error class.
func RecordRequestError(operation, class string) {
	requestErrorsTotal.WithLabelValues(operation, class).Inc()
}

// RecordContentDownload records bytes read from a content body.
func RecordContentDownload(bytes int64) {
	if bytes > 0 {
		contentBytesDownloaded.Add(float64(bytes))
	}
}

// RecordContentUpload records bytes sent by create or update.
func RecordContentUpload(bytes int64) {
	if bytes > 0 {
		contentBytesUploaded.Add(float64(bytes))
	}
}

// RecordExport records one file written to an export sink.
func RecordExport(sink string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	exportedFilesTotal.WithLabelValues(sink, status).Inc()
}
