// Package metrics provides Prometheus metrics for the chat backend.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exchange outcomes.
const (
	OutcomeReplied     = "replied"
	OutcomeFallback    = "fallback"
	OutcomeRateLimited = "rate_limited"
	OutcomeNotFound    = "not_found"
	OutcomeConfig      = "config_error"
	OutcomeStorage     = "storage_error"
)

// Metrics holds all Prometheus collectors for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ExchangesTotal     *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPRequestLatency *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ExchangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "careerchat_exchanges_total",
				Help: "Total number of message exchanges by outcome",
			},
			[]string{"outcome"},
		),
		CompletionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "careerchat_completion_duration_seconds",
				Help:    "Duration of completion calls in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"status"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "careerchat_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "careerchat_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordExchange counts one finished send by outcome.
func (m *Metrics) RecordExchange(outcome string) {
	if m == nil {
		return
	}
	m.ExchangesTotal.WithLabelValues(outcome).Inc()
}

// RecordCompletion observes a completion call. status is "ok", "error" or
// "timeout".
func (m *Metrics) RecordCompletion(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CompletionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordHTTPRequest records a served request. route is the matched pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}
