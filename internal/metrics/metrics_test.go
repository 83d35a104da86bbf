package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestCollectorTracksAuditQueueDepthAndConnections(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.SetAuditQueueDepth(7)
	require.Equal(t, float64(7), gaugeValue(t, c.auditQueueDepth))

	c.SetConnectionCount(3)
	require.Equal(t, float64(3), gaugeValue(t, c.connections))
}

func TestCollectorCountsCASConflicts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.IncCASConflict()
	c.IncCASConflict()

	var m dto.Metric
	require.NoError(t, c.casConflicts.Write(&m))
	require.Equal(t, float64(2), m.GetCounter().GetValue())
}

func TestObserveSwitchLatencyRecordsSample(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveSwitchLatency(12 * time.Millisecond)

	var m dto.Metric
	require.NoError(t, c.switchLatency.Write(&m))
	require.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
}
