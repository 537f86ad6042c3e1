package projection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments projection progress.
type Metrics struct {
	EventsApplied   *prometheus.CounterVec
	CheckpointSaves *prometheus.CounterVec
	Restarts        *prometheus.CounterVec
	Offset          *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "projection",
			Name:      "events_applied_total",
			Help:      "Records applied, including redeliveries after restart",
		}, []string{"projection"}),
		CheckpointSaves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "projection",
			Name:      "checkpoint_saves_total",
			Help:      "Checkpoint writes",
		}, []string{"projection"}),
		Restarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "projection",
			Name:      "restarts_total",
			Help:      "Restarts from the persisted checkpoint after a failure",
		}, []string{"projection"}),
		Offset: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "accounts",
			Subsystem: "projection",
			Name:      "offset",
			Help:      "Last applied offset in the tagged stream",
		}, []string{"projection"}),
	}
}

func (m *Metrics) applied(name string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsApplied.WithLabelValues(name).Add(float64(n))
}

func (m *Metrics) checkpointSaved(name string) {
	if m == nil {
		return
	}
	m.CheckpointSaves.WithLabelValues(name).Inc()
}

func (m *Metrics) restarted(name string) {
	if m == nil {
		return
	}
	m.Restarts.WithLabelValues(name).Inc()
}

func (m *Metrics) setOffset(name string, offset int64) {
	if m == nil {
		return
	}
	m.Offset.WithLabelValues(name).Set(float64(offset))
}
