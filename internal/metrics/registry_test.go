package metrics

import (
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PrometheusTextAtZero(t *testing.T) {
	r := NewRegistry(nil)

	text := r.PrometheusText()

	for _, want := range []string{
		"# HELP ws_manager_active_connections ",
		"# TYPE ws_manager_active_connections gauge",
		"# HELP ws_manager_retry_count_total ",
		"# TYPE ws_manager_retry_count_total counter",
		"# HELP ws_manager_stream_creations_total ",
		"# TYPE ws_manager_stream_creations_total counter",
		"# HELP ws_manager_stream_cleanups_total ",
		"# TYPE ws_manager_stream_cleanups_total counter",
		"# HELP ws_manager_active_connections_hwm ",
		"# TYPE ws_manager_active_connections_hwm gauge",
		"ws_manager_retry_count_total 0",
	} {
		assert.Contains(t, text, want)
	}
}

func TestRegistry_PrometheusTextIsPure(t *testing.T) {
	r := NewRegistry(func() int { return 2 })
	r.RecordRetry(time.Now())

	first := r.PrometheusText()
	second := r.PrometheusText()

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), r.Snapshot().RetryCount)
	assert.Contains(t, first, "ws_manager_active_connections 2")
}

func TestRegistry_Gatherer(t *testing.T) {
	r := NewRegistry(nil)
	r.RecordStreamCreated(1)
	r.RecordStreamCleanup()

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	require.Len(t, families, 5)

	types := make(map[string]dto.MetricType)
	values := make(map[string]float64)
	for _, mf := range families {
		types[mf.GetName()] = mf.GetType()
		m := mf.GetMetric()[0]
		if mf.GetType() == dto.MetricType_COUNTER {
			values[mf.GetName()] = m.GetCounter().GetValue()
		} else {
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}

	assert.Equal(t, dto.MetricType_GAUGE, types["ws_manager_active_connections"])
	assert.Equal(t, dto.MetricType_GAUGE, types["ws_manager_active_connections_hwm"])
	assert.Equal(t, dto.MetricType_COUNTER, types["ws_manager_stream_creations_total"])
	assert.Equal(t, float64(1), values["ws_manager_stream_creations_total"])
	assert.Equal(t, float64(1), values["ws_manager_stream_cleanups_total"])
	assert.Equal(t, float64(1), values["ws_manager_active_connections_hwm"])
}

func TestRegistry_HighWaterMark(t *testing.T) {
	r := NewRegistry(nil)

	r.RecordStreamCreated(1)
	r.RecordStreamCreated(2)
	r.RecordStreamCreated(3)
	r.RecordStreamCleanup()
	r.RecordStreamCleanup()
	r.RecordStreamCreated(2)

	snap := r.Snapshot()
	assert.Equal(t, int64(3), snap.ActiveConnectionsHWM)
	assert.Equal(t, int64(4), snap.TotalStreamCreations)
	assert.Equal(t, int64(2), snap.TotalStreamCleanups)
}

func TestRegistry_Snapshot(t *testing.T) {
	active := 0
	r := NewRegistry(func() int { return active })

	snap := r.Snapshot()
	assert.True(t, snap.LastRetryTime.IsZero())
	assert.True(t, snap.LastErrorTime.IsZero())
	assert.Equal(t, Implementation, snap.Implementation)

	now := time.Now()
	active = 4
	r.RecordError(now)
	r.RecordRetry(now)
	r.RecordRetry(now)
	r.RecordReconnection()

	snap = r.Snapshot()
	assert.Equal(t, 4, snap.ActiveConnections)
	assert.Equal(t, int64(2), snap.RetryCount)
	assert.Equal(t, int64(1), snap.TotalReconnections)
	assert.True(t, snap.LastRetryTime.Equal(now))
	assert.True(t, snap.LastErrorTime.Equal(now))
}

func TestRegistry_TextHasOneTriplePerMetric(t *testing.T) {
	r := NewRegistry(nil)
	text := r.PrometheusText()

	assert.Equal(t, 5, strings.Count(text, "# HELP "))
	assert.Equal(t, 5, strings.Count(text, "# TYPE "))
}
