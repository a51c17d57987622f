package openvoice

import (
	appmetrics "voicestudio/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ModelQueryTime *prometheus.HistogramVec
	ModelErrors    *prometheus.CounterVec
}

var metrics = &Metrics{
	ModelQueryTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Subsystem: "tone_model",
		Name:      "request_seconds",
		Buckets:   appmetrics.RequestSecondsBuckets,
	}, []string{"method"}),
	ModelErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
		Subsystem: "tone_model",
		Name:      "errors_total",
	}, []string{"method"}),
}

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(metrics.ModelQueryTime)
	reg.MustRegister(metrics.ModelErrors)
}
