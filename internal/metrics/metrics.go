// Package metrics registers the process's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnonymizeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opendeid_anonymize_requests_total",
			Help: "Calls to the anonymization service by outcome",
		},
		[]string{"outcome"},
	)

	AnonymizeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opendeid_anonymize_duration_seconds",
			Help:    "Latency of anonymization service calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	EntitiesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opendeid_entities_received_total",
			Help: "Entity spans returned by the anonymization service",
		},
		[]string{"entity_type"},
	)

	FindingToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opendeid_finding_toggles_total",
			Help: "Finding include/exclude changes",
		},
		[]string{"scope", "included"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opendeid_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "route", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opendeid_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	ClipboardCopies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opendeid_clipboard_copies_total",
			Help: "Clipboard writes by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opendeid_storage_errors_total",
			Help: "Preference store failures by operation",
		},
		[]string{"op"},
	)
)

// ObserveAnonymize records one anonymization call.
func ObserveAnonymize(outcome string, d time.Duration) {
	AnonymizeRequests.WithLabelValues(outcome).Inc()
	AnonymizeDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
