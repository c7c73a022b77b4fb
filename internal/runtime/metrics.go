package runtime

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons.
const (
	dropMalformed  = "malformed"
	dropUnselected = "unselected"
)

// Metrics holds the bridge collectors. A nil *Metrics records nothing.
type Metrics struct {
	forwarded *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	gateways  prometheus.Gauge
}

// NewMetrics creates unregistered bridge collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		forwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dalicenter_notifications_forwarded_total",
				Help: "Gateway push notifications forwarded for selected items",
			},
			[]string{"event"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dalicenter_notifications_dropped_total",
				Help: "Gateway push notifications dropped, by reason",
			},
			[]string{"reason"},
		),
		gateways: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dalicenter_runtime_gateways_active",
			Help: "Gateways with an active notification subscription",
		}),
	}
}

// Collectors exposes the bridge collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.forwarded, m.dropped, m.gateways}
}

func (m *Metrics) notificationForwarded(e Event) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(string(e)).Inc()
}

func (m *Metrics) notificationDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) setGateways(n int) {
	if m == nil {
		return
	}
	m.gateways.Set(float64(n))
}
