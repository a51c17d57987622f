package metrics_test

import (
	"testing"

	"voicestudio/internal/app/metrics"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRegisterMetrics(t *testing.T) {
	assert := require.New(t)

	reg := prometheus.NewRegistry()
	assert.NotPanics(func() { metrics.RegisterMetrics(reg, "test") })

	families, err := reg.Gather()
	assert.NoError(err)

	byName := make(map[string]*io_prometheus_client.MetricFamily)
	for _, f := range families {
		byName[f.GetName()] = f
	}
	assert.Contains(byName, "websockets_conns_total")
	assert.Contains(byName, "batch_conversion_active")

	buildInfo := byName["voicestudio_build_info"]
	assert.NotNil(buildInfo)
	assert.Equal(io_prometheus_client.MetricType_GAUGE, buildInfo.GetType())
	assert.Len(buildInfo.GetMetric(), 1)

	m := buildInfo.GetMetric()[0]
	assert.Equal(1.0, m.GetGauge().GetValue())
	assert.Equal("version", m.GetLabel()[0].GetName())
	assert.Equal("test", m.GetLabel()[0].GetValue())
}
