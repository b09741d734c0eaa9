package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveConsume("credits", true, false)
	m.ObserveConsume("credits", false, false)
	m.ObserveConsume("credits", true, true)
	m.TrailWriteFailed("audit")
	m.ObserveRequest("POST", "/api/v1/entitlements/consume", 200, 15*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.consumeOutcomes.WithLabelValues("credits", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.consumeOutcomes.WithLabelValues("credits", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.consumeOutcomes.WithLabelValues("credits", "replayed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trailFailures.WithLabelValues("audit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.apiRequests.WithLabelValues("POST", "/api/v1/entitlements/consume", "200")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveConsume("credits", true, false)
		m.TrailWriteFailed("app_event")
		m.ObserveGrant("grant", "pass")
		m.ObservePayment("created")
		m.ObserveCache("hit")
		m.ObserveRequest("GET", "/healthz", 200, time.Millisecond)
	})
}
