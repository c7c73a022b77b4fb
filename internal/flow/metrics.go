package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the flow collectors. A nil *Metrics records nothing.
type Metrics struct {
	started  *prometheus.CounterVec
	finished *prometheus.CounterVec
	active   *prometheus.GaugeVec
	stage    *prometheus.HistogramVec
}

// NewMetrics creates unregistered flow collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dalicenter_flows_started_total",
				Help: "Discovery and refresh flows started",
			},
			[]string{"type"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dalicenter_flows_finished_total",
				Help: "Flows that reached a terminal state, by outcome (complete or failure reason)",
			},
			[]string{"type", "outcome"},
		),
		active: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dalicenter_flows_active",
				Help: "Flows not yet complete or failed",
			},
			[]string{"type"},
		),
		stage: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dalicenter_flow_stage_duration_seconds",
				Help:    "Duration of flow network stages",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 180},
			},
			[]string{"stage"},
		),
	}
}

// Collectors exposes the flow collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.started, m.finished, m.active, m.stage}
}

func (m *Metrics) flowStarted(typ Type) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(string(typ)).Inc()
	m.active.WithLabelValues(string(typ)).Inc()
}

func (m *Metrics) flowResumed(typ Type) {
	if m == nil {
		return
	}
	m.active.WithLabelValues(string(typ)).Inc()
}

func (m *Metrics) flowFinished(typ Type, outcome string) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(string(typ), outcome).Inc()
	m.active.WithLabelValues(string(typ)).Dec()
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stage.WithLabelValues(stage).Observe(d.Seconds())
}
