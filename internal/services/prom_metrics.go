package services

import "github.com/prometheus/client_golang/prometheus"

// Prometheus mirrors of the MetricsCollector counters. They are process
// global like the HTTP collectors; several collectors in one process (tests)
// add into the same series.
var (
	promConnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presence_connections_total",
		Help: "Total number of presence connects.",
	})

	promConnsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "presence_connections_active",
		Help: "Currently connected users.",
	})

	promMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_messages_total",
		Help: "Messages routed by type.",
	}, []string{"type"})

	promErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_errors_total",
		Help: "Recorded errors by kind.",
	}, []string{"type"})

	promDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "presence_deliveries_dropped_total",
		Help: "Deliveries skipped because the target had no live session.",
	})
)

func init() {
	prometheus.MustRegister(promConnsTotal, promConnsActive, promMessages, promErrors, promDropped)
}
