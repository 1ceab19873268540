// Package metrics provides Prometheus metrics for the session layer.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "artvinci"

var (
	// HandshakesTotal counts identity initialization attempts by outcome.
	HandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_handshakes_total",
			Help:      "Total number of identity provider handshakes",
		},
		[]string{"outcome"},
	)

	// RefreshTotal counts refresh token exchanges by outcome.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_refresh_total",
			Help:      "Total number of refresh token exchanges",
		},
		[]string{"outcome"},
	)

	// APIRequestsTotal counts backend responses by status code.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total number of backend API responses",
		},
		[]string{"method", "code"},
	)

	// APIRequestDuration measures backend round trips.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Duration of backend API round trips in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// RetriesTotal counts requests replayed after a refresh.
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_auth_retries_total",
			Help:      "Total number of requests retried after a 401",
		},
	)

	// EscalationsTotal counts session expired escalations, throttled or not.
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_expired_total",
			Help:      "Total number of session expired escalations",
		},
		[]string{"redirected"},
	)

	// ErrorsTotal counts errors by operation and type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"operation", "error_type"},
	)
)

// RecordHandshake records an identity initialization.
func RecordHandshake(outcome string) {
	HandshakesTotal.WithLabelValues(outcome).Inc()
}

// RecordRefresh records a refresh token exchange.
func RecordRefresh(outcome string) {
	RefreshTotal.WithLabelValues(outcome).Inc()
}

// RecordAPIRequest records a backend response.
func RecordAPIRequest(method string, code int, seconds float64) {
	APIRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	APIRequestDuration.WithLabelValues(method).Observe(seconds)
}

// RecordRetry records a request replay after refresh.
func RecordRetry() {
	RetriesTotal.Inc()
}

// RecordEscalation records a session expired escalation.
func RecordEscalation(redirected bool) {
	EscalationsTotal.WithLabelValues(strconv.FormatBool(redirected)).Inc()
}

// RecordError records an error.
func RecordError(operation, errorType string) {
	ErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
