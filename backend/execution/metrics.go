package execution

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups the execution core's Prometheus instruments. Dashboards are
// out of scope, but the counters themselves are not: admissions, rejections,
// and queue depth are instrumented. BrokerRPCLatency is registered, but no
// code in this repository records observations into it.
type Metrics struct {
	AdmissionTotal  prometheus.Counter
	RejectionTotal  *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	BrokerRPCLatency *prometheus.HistogramVec
}

// NewMetrics constructs and registers the execution core's metrics on reg.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across package-level test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AdmissionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optioncore",
			Subsystem: "execution",
			Name:      "admissions_total",
			Help:      "Total orders admitted by the router.",
		}),
		RejectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "optioncore",
			Subsystem: "execution",
			Name:      "rejections_total",
			Help:      "Total orders rejected by the router, by reason.",
		}, []string{"reason"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "optioncore",
			Subsystem: "execution",
			Name:      "queue_depth",
			Help:      "Current depth of the priority order queue.",
		}),
		BrokerRPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "optioncore",
			Subsystem: "execution",
			Name:      "broker_rpc_latency_seconds",
			Help:      "Latency of broker gateway RPC calls, by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	if reg != nil {
		reg.MustRegister(m.AdmissionTotal, m.RejectionTotal, m.QueueDepth, m.BrokerRPCLatency)
	}
	return m
}
