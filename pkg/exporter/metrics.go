package exporter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the event counters fed by the poll loop and the enforcer.
type Metrics struct {
	enforcements  *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	cyclesSkipped prometheus.Counter
	measureFails  prometheus.Counter
	volumes       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enforcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_enforcements_total",
			Help: "Enforcements by reason and result",
		}, []string{"reason", "result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_cycle_duration_seconds",
			Help:    "Wall time of one poll cycle",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		cyclesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_cycles_skipped_total",
			Help: "Ticks dropped because the previous cycle was still running",
		}),
		measureFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_measurement_failures_total",
			Help: "Volume measurements that failed or timed out",
		}),
		volumes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_volumes",
			Help: "Volumes found by the last enumeration",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.enforcements, m.cycleDuration, m.cyclesSkipped, m.measureFails, m.volumes)
	}
	return m
}

func (m *Metrics) ObserveEnforcement(reason, result string) {
	m.enforcements.WithLabelValues(reason, result).Inc()
}

func (m *Metrics) ObserveCycle(d time.Duration, volumes int) {
	m.cycleDuration.Observe(d.Seconds())
	m.volumes.Set(float64(volumes))
}

func (m *Metrics) CycleSkipped()      { m.cyclesSkipped.Inc() }
func (m *Metrics) MeasurementFailed() { m.measureFails.Inc() }
