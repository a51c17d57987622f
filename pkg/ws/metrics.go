package ws

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	WebSocketConnections prometheus.Gauge
	WriteErrors          prometheus.Counter
}

var metrics = &Metrics{
	WebSocketConnections: prometheus.NewGauge(prometheus.GaugeOpts{
		Subsystem: "websockets",
		Name:      "conns_total",
	}),
	WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
		Subsystem: "websockets",
		Name:      "write_errors_total",
	}),
}

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(metrics.WebSocketConnections)
	reg.MustRegister(metrics.WriteErrors)
}
