package metrics

import (
	"voicestudio/internal/app/batch"
	"voicestudio/pkg/ffmpeg"
	"voicestudio/pkg/openvoice"
	"voicestudio/pkg/tts"
	"voicestudio/pkg/ws"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	BuildInfo *prometheus.GaugeVec
}

var metrics = &Metrics{
	BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "voicestudio",
		Name:      "build_info",
	}, []string{"version"}),
}

// RegisterMetrics registers every package's collectors plus the process and
// Go runtime collectors.
func RegisterMetrics(reg prometheus.Registerer, version string) {
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ffmpeg.RegisterMetrics(reg)
	tts.RegisterMetrics(reg)
	openvoice.RegisterMetrics(reg)
	batch.RegisterMetrics(reg)
	ws.RegisterMetrics(reg)

	reg.MustRegister(metrics.BuildInfo)
	metrics.BuildInfo.WithLabelValues(version).Set(1)
}
