// Package metrics defines the Prometheus collectors the portal exports.
//
// Metrics:
//   - portal_http_requests_total{method,route,status}
//   - portal_http_request_duration_seconds{method,route}
//   - portal_registrations_total{result}
//   - portal_logins_total{result}
//   - portal_remote_calls_total{op,outcome}
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels shared by the registration and login counters.
const (
	ResultSuccess   = "success"
	ResultRejected  = "rejected"
	ResultConflict  = "conflict"
	ResultProvision = "provision_failed"
	ResultError     = "error"
)

// Outcome labels for remote calls.
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeConstraint  = "constraint"
	OutcomeEmpty       = "empty"
	OutcomeError       = "error"
)

// Metrics holds every collector. Build one per registry; use New with
// prometheus.DefaultRegisterer in the server and a fresh registry in tests.
type Metrics struct {
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	Registrations *prometheus.CounterVec
	Logins        *prometheus.CounterVec
	RemoteCalls   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_http_requests_total",
				Help: "HTTP requests by method, route pattern and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "portal_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		Registrations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_registrations_total",
				Help: "Registration attempts by result",
			},
			[]string{"result"},
		),
		Logins: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		RemoteCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "portal_remote_calls_total",
				Help: "Calls to the project service by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
	}
}

// Discard returns collectors registered nowhere. Services fall back to it
// when no Metrics is supplied.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
