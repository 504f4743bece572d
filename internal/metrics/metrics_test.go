package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttraffic/core/internal/metrics"
)

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := counter.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	_ = c.(prometheus.Metric).Write(m)
	return m.GetCounter().GetValue()
}

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	_ = gauge.(prometheus.Metric).Write(m)
	return m.GetGauge().GetValue()
}

func getHistogramCount(t *testing.T, hist *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	o, err := hist.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	_ = o.(prometheus.Metric).Write(m)
	return m.GetHistogram().GetSampleCount()
}

func TestHTTPMiddleware_RecordsRequestMetrics(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	beforeCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/message", "200")
	beforeHistCount := getHistogramCount(t, metrics.HTTPRequestDuration, "GET", "/message")

	resp, err := http.Get(server.URL + "/message")
	require.NoError(t, err)
	_ = resp.Body.Close()

	afterCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/message", "200")
	afterHistCount := getHistogramCount(t, metrics.HTTPRequestDuration, "GET", "/message")

	assert.Equal(t, float64(1), afterCount-beforeCount)
	assert.Equal(t, uint64(1), afterHistCount-beforeHistCount)
}

func TestHTTPMiddleware_NormalizesIdentifierSegments(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	before := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/getAgentStatistics/:missionId", "200")
	resp, err := http.Get(server.URL + "/getAgentStatistics/mission-42")
	require.NoError(t, err)
	_ = resp.Body.Close()
	after := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/getAgentStatistics/:missionId", "200")
	assert.Equal(t, float64(1), after-before)

	beforeRoster := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/mission/:missionId/roster", "200")
	resp, err = http.Get(server.URL + "/mission/mission-42/roster")
	require.NoError(t, err)
	_ = resp.Body.Close()
	afterRoster := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/mission/:missionId/roster", "200")
	assert.Equal(t, float64(1), afterRoster-beforeRoster)
}

func TestHTTPMiddleware_Records404(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	beforeCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/nonexistent", "404")

	resp, err := http.Get(server.URL + "/nonexistent")
	require.NoError(t, err)
	_ = resp.Body.Close()

	afterCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/nonexistent", "404")
	assert.Equal(t, float64(1), afterCount-beforeCount)
}

func TestWorkersKnownGauge(t *testing.T) {
	before := getGaugeValue(t, metrics.WorkersKnown)
	metrics.WorkersKnown.Inc()
	after := getGaugeValue(t, metrics.WorkersKnown)
	assert.Equal(t, float64(1), after-before)

	metrics.WorkersKnown.Dec()
	assert.Equal(t, before, getGaugeValue(t, metrics.WorkersKnown))
}

func TestAgentsPlacedGauge(t *testing.T) {
	before := getGaugeValue(t, metrics.AgentsPlaced)
	metrics.AgentsPlaced.Inc()
	after := getGaugeValue(t, metrics.AgentsPlaced)
	assert.Equal(t, float64(1), after-before)

	metrics.AgentsPlaced.Dec()
	assert.Equal(t, before, getGaugeValue(t, metrics.AgentsPlaced))
}

func TestMetricsRegistered(t *testing.T) {
	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer)
	require.NoError(t, err)
	assert.Greater(t, count, 0, "should have registered metrics")
}
