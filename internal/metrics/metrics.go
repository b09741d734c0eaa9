// Package metrics exposes the Prometheus instruments of the accounting core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quotaledger"

// Metrics groups the counters and histograms reported by the core.
type Metrics struct {
	consumeOutcomes *prometheus.CounterVec
	trailFailures   *prometheus.CounterVec
	grantOps        *prometheus.CounterVec
	paymentOps      *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	apiRequests     *prometheus.CounterVec
	apiDuration     *prometheus.HistogramVec
}

// New registers the instruments on reg, or on the default registerer when nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	consumeOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consume_outcomes_total",
		Help:      "Metered attempts by quota kind and result.",
	}, []string{"kind", "result"})

	trailFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trail_write_failures_total",
		Help:      "Swallowed audit/event trail write failures by log.",
	}, []string{"log"})

	grantOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "grant_operations_total",
		Help:      "Grant engine operations by operation and product kind.",
	}, []string{"op", "kind"})

	paymentOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_operations_total",
		Help:      "Payment store operations by result.",
	}, []string{"result"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Read-through cache lookups by result.",
	}, []string{"result"})

	apiRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	apiDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	reg.MustRegister(
		consumeOutcomes,
		trailFailures,
		grantOps,
		paymentOps,
		cacheLookups,
		apiRequests,
		apiDuration,
	)

	return &Metrics{
		consumeOutcomes: consumeOutcomes,
		trailFailures:   trailFailures,
		grantOps:        grantOps,
		paymentOps:      paymentOps,
		cacheLookups:    cacheLookups,
		apiRequests:     apiRequests,
		apiDuration:     apiDuration,
	}
}

// ObserveConsume counts one metered attempt.
func (m *Metrics) ObserveConsume(kind string, allowed, replayed bool) {
	if m == nil {
		return
	}
	result := "denied"
	switch {
	case replayed:
		result = "replayed"
	case allowed:
		result = "allowed"
	}
	m.consumeOutcomes.WithLabelValues(kind, result).Inc()
}

// TrailWriteFailed counts a swallowed trail write failure.
func (m *Metrics) TrailWriteFailed(log string) {
	if m == nil {
		return
	}
	m.trailFailures.WithLabelValues(log).Inc()
}

// ObserveGrant counts one grant or revoke.
func (m *Metrics) ObserveGrant(op, kind string) {
	if m == nil {
		return
	}
	m.grantOps.WithLabelValues(op, kind).Inc()
}

// ObservePayment counts one payment store operation.
func (m *Metrics) ObservePayment(result string) {
	if m == nil {
		return
	}
	m.paymentOps.WithLabelValues(result).Inc()
}

// ObserveCache counts one cache lookup.
func (m *Metrics) ObserveCache(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
