package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-query-cache/logger"
	"github.com/saiset-co/sai-query-cache/types"
	"github.com/saiset-co/sai-query-cache/utils"
)

func TestManager_DisabledHandsOutNoops(t *testing.T) {
	m := NewDisabled()
	require.NoError(t, m.Start())

	counter := m.Counter("anything_total", map[string]string{"a": "b"})
	counter.Inc()
	assert.Equal(t, float64(0), counter.Get())

	_, err := m.GetMetrics()
	assert.ErrorIs(t, err, types.ErrMetricsNotRunning)
}

func TestManager_PrometheusCountsWhileRunning(t *testing.T) {
	m, err := NewManager(context.Background(), &types.MetricsConfig{
		Enabled: true,
		Type:    "prometheus",
		Config:  map[string]interface{}{"namespace": "test"},
	}, logger.NewNop())
	require.NoError(t, err)

	// Not running yet: instruments are no-ops.
	m.Counter("hits_total", map[string]string{"category": "accounts"}).Inc()

	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	counter := m.Counter("hits_total", map[string]string{"category": "accounts"})
	counter.Inc()
	counter.Add(2)
	assert.Equal(t, float64(3), counter.Get())

	gauge := m.Gauge("snapshot_bytes", nil)
	gauge.Set(42)
	assert.Equal(t, float64(42), gauge.Get())

	histogram := m.Histogram("op_seconds", []float64{0.1, 1}, map[string]string{"operation": "get"})
	histogram.Observe(0.5)
	assert.Equal(t, uint64(1), histogram.GetCount())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "test_hits_total"))
}

func TestPrometheus_MismatchedRegistrationDropsSamples(t *testing.T) {
	p, err := NewPrometheusMetrics(context.Background(), logger.NewNop(), &types.MetricsConfig{Prefix: "test"})
	require.NoError(t, err)

	p.Counter("persist_runs_total", map[string]string{"trigger": "interval"}).Inc()

	assert.NotPanics(t, func() {
		p.Counter("persist_runs_total", map[string]string{"result": "written"}).Inc()
		p.Gauge("persist_runs_total", nil).Set(1)
	})

	assert.Equal(t, float64(1), p.Counter("persist_runs_total", map[string]string{"trigger": "interval"}).Get())
	assert.Equal(t, float64(0), p.Gauge("persist_runs_total", nil).Get())
}

func TestPrometheus_GetMetricsDescribesCacheSeries(t *testing.T) {
	p, err := NewPrometheusMetrics(context.Background(), logger.NewNop(), &types.MetricsConfig{Prefix: "test"})
	require.NoError(t, err)

	p.Gauge("query_cache_entries", nil).Set(4)
	p.Histogram("cache_operation_duration_seconds", []float64{0.1}, map[string]string{"operation": "ensure"}).Observe(0.05)
	p.Counter("custom_total", nil).Inc()

	data, err := p.GetMetrics()
	require.NoError(t, err)

	var values []types.MetricValue
	require.NoError(t, utils.Unmarshal(data, &values))
	require.Len(t, values, 3)

	assert.Equal(t, "test_cache_operation_duration_seconds", values[0].Name)
	assert.Equal(t, float64(1), values[0].Value)
	assert.Equal(t, "Query cache metric custom_total.", values[1].Help)
	assert.Equal(t, "test_query_cache_entries", values[2].Name)
	assert.Equal(t, float64(4), values[2].Value)
	assert.Equal(t, help["query_cache_entries"], values[2].Help)
}

func TestManager_UnknownType(t *testing.T) {
	_, err := NewManager(context.Background(), &types.MetricsConfig{Enabled: true, Type: "statsd"}, logger.NewNop())
	assert.ErrorIs(t, err, types.ErrMetricsTypeUnknown)
}
