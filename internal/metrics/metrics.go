package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/trafficlab/internal/orchestrator"
	"github.com/dgnsrekt/trafficlab/internal/types"
)

// Metrics holds the collector's Prometheus metrics and observes orchestrator runs.
type Metrics struct {
	CyclesTotal  *prometheus.CounterVec
	ItemsTotal   *prometheus.CounterVec
	Packets      prometheus.Counter
	StopSeconds  prometheus.Histogram
	CurrentCycle prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates the metrics and registers them on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trafficlab_cycles_total",
			Help: "Total number of capture cycles by outcome",
		}, []string{"outcome"}),

		ItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trafficlab_items_total",
			Help: "Total number of stimulus items by executed action",
		}, []string{"action"}),

		Packets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trafficlab_packets_captured_total",
			Help: "Total number of packets written to capture files",
		}),

		StopSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trafficlab_capture_stop_seconds",
			Help:    "Time taken by capture sessions to acknowledge a stop request",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),

		CurrentCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trafficlab_current_cycle",
			Help: "Index of the cycle in progress, -1 when none is running",
		}),
	}
	m.CurrentCycle.Set(-1)

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m)
	return m
}

// Describe implements prometheus.Collector
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.CyclesTotal.Describe(ch)
	m.ItemsTotal.Describe(ch)
	m.Packets.Describe(ch)
	m.StopSeconds.Describe(ch)
	m.CurrentCycle.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.CyclesTotal.Collect(ch)
	m.ItemsTotal.Collect(ch)
	m.Packets.Collect(ch)
	m.StopSeconds.Collect(ch)
	m.CurrentCycle.Collect(ch)
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CycleStarted(ev orchestrator.CycleEvent) {
	m.CurrentCycle.Set(float64(ev.CycleIndex))
}

func (m *Metrics) ItemFinished(_ int, rec types.ItemRecord) {
	action := rec.Plan.Action()
	if rec.Failed() {
		action = "failed"
	}
	m.ItemsTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) CycleFinished(r types.CycleResult) {
	m.CyclesTotal.WithLabelValues(string(r.Outcome)).Inc()
	m.Packets.Add(float64(r.PacketsCaptured))
	if !r.StoppedAt.IsZero() {
		m.StopSeconds.Observe(r.StopSeconds)
	}
	m.CurrentCycle.Set(-1)
}

var _ orchestrator.Observer = (*Metrics)(nil)
