package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the relay does with redirected flows.
type Metrics struct {
	accepted           *prometheus.CounterVec
	resolutionFailures *prometheus.CounterVec
	upstreamFailures   *prometheus.CounterVec
	blocked            *prometheus.CounterVec
	forwardedBytes     *prometheus.CounterVec
	closed             *prometheus.CounterVec
	activePairs        prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwproxy_accepted_connections_total",
			Help: "Redirected connections accepted, by listening service.",
		}, []string{"service"}),
		resolutionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwproxy_resolution_failures_total",
			Help: "Accepted connections dropped because the connection table gave no destination.",
		}, []string{"service"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwproxy_upstream_failures_total",
			Help: "Accepted connections dropped because the real server could not be reached.",
		}, []string{"service"}),
		blocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwproxy_blocked_pairs_total",
			Help: "Connection pairs reset because a chunk violated policy, by the role of the offending side.",
		}, []string{"role"}),
		forwardedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwproxy_forwarded_bytes_total",
			Help: "Bytes forwarded after inspection, by the role of the producing side.",
		}, []string{"role"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fwproxy_closed_pairs_total",
			Help: "Connection pairs torn down, by reason.",
		}, []string{"reason"}),
		activePairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fwproxy_active_pairs",
			Help: "Connection pairs currently relayed.",
		}),
	}
}

// MustRegister registers all metrics into the provided registry.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.accepted,
		m.resolutionFailures,
		m.upstreamFailures,
		m.blocked,
		m.forwardedBytes,
		m.closed,
		m.activePairs,
	)
}
