package ffmpeg

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ChainSeconds prometheus.Histogram
	StageRuns    *prometheus.CounterVec
	Errors       *prometheus.CounterVec
}

var metrics = &Metrics{
	ChainSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
		Subsystem: "effects",
		Name:      "chain_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}),
	StageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "effects",
		Name:      "stage_runs_total",
	}, []string{"stage"}),
	Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "effects",
		Name:      "errors_total",
	}, []string{"err_code"}),
}

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(metrics.ChainSeconds)
	reg.MustRegister(metrics.StageRuns)
	reg.MustRegister(metrics.Errors)
}
