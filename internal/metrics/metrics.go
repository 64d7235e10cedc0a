// Package metrics exposes Prometheus collectors for authentication and HTTP traffic.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation labels.
const (
	OperationRegister = "register"
	OperationLogin    = "login"
	OperationSession  = "session"
	OperationLogout   = "logout"
)

// Outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalidInput = "invalid_input"
	OutcomeUnauthorized = "unauthorized"
	OutcomeConflict     = "conflict"
	OutcomeError        = "error"
)

// AuthAttempts counts auth operations by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var AuthAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "proposal_auth_attempts_total",
		Help: "Total number of authentication operations",
	},
	[]string{"operation", "outcome"},
)

// RequestDuration observes HTTP handler latency.
// Use RegisterMetrics to register this with a Prometheus registry.
var RequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "proposal_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// RegisterMetrics registers the collectors with reg. Panics if registration fails.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AuthAttempts)
	reg.MustRegister(RequestDuration)
}

func RecordAuthAttempt(operation, outcome string) {
	AuthAttempts.WithLabelValues(operation, outcome).Inc()
}

func RecordRequest(method, route, status string, d time.Duration) {
	RequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}
