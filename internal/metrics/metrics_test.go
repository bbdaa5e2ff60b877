package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordExchange(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordExchange(OutcomeReplied)
	m.RecordExchange(OutcomeReplied)
	m.RecordExchange(OutcomeFallback)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExchangesTotal.WithLabelValues(OutcomeReplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExchangesTotal.WithLabelValues(OutcomeFallback)))
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordHTTPRequest("GET", "/api/sessions", 200, 15*time.Millisecond)
	m.RecordCompletion("ok", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/sessions", "200")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "careerchat_completion_duration_seconds")
	assert.Contains(t, names, "careerchat_http_request_duration_seconds")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordExchange(OutcomeReplied)
		m.RecordCompletion("ok", time.Second)
		m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
	})
}
