package batch

import (
	appmetrics "voicestudio/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SegmentSeconds   *prometheus.HistogramVec
	SegmentOutcomes  *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	ConversionActive prometheus.Gauge
	QueueDepth       prometheus.Gauge
}

var metrics = &Metrics{
	SegmentSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: "batch",
		Name:      "segment_seconds",
		Buckets:   appmetrics.RequestSecondsBuckets,
	}, []string{"op"}),
	SegmentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "batch",
		Name:      "segments_total",
	}, []string{"op", "status"}),
	Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "batch",
		Name:      "errors_total",
	}, []string{"err_code"}),
	ConversionActive: prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: "batch",
		Name:      "conversion_active",
	}),
	QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: "batch",
		Name:      "queue_depth",
	}),
}

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(metrics.SegmentSeconds)
	reg.MustRegister(metrics.SegmentOutcomes)
	reg.MustRegister(metrics.Errors)
	reg.MustRegister(metrics.ConversionActive)
	reg.MustRegister(metrics.QueueDepth)
}
