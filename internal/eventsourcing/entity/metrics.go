package entity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments aggregate recovery and persistence.
type Metrics struct {
	Recoveries       *prometheus.CounterVec
	RecoveryDuration *prometheus.HistogramVec
	EventsReplayed   *prometheus.CounterVec
	EventsPersisted  *prometheus.CounterVec
	AppendConflicts  *prometheus.CounterVec
	SnapshotsSaved   *prometheus.CounterVec
	SnapshotFailures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "entity",
			Name:      "recoveries_total",
			Help:      "Aggregate recoveries by entity type and source (snapshot or replay)",
		}, []string{"entity_type", "source"}),
		RecoveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "accounts",
			Subsystem: "entity",
			Name:      "recovery_duration_seconds",
			Help:      "Time to load snapshot and replay events",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"entity_type"}),
		EventsReplayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "entity",
			Name:      "events_replayed_total",
			Help:      "Events folded during recovery or conflict catch-up",
		}, []string{"entity_type"}),
		EventsPersisted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "entity",
			Name:      "events_persisted_total",
			Help:      "Events durably appended",
		}, []string{"entity_type"}),
		AppendConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "entity",
			Name:      "append_conflicts_total",
			Help:      "Appends rejected by the optimistic sequence check",
		}, []string{"entity_type"}),
		SnapshotsSaved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "entity",
			Name:      "snapshots_saved_total",
			Help:      "Snapshots written",
		}, []string{"entity_type"}),
		SnapshotFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "entity",
			Name:      "snapshot_failures_total",
			Help:      "Snapshot writes or reads that failed",
		}, []string{"entity_type", "op"}),
	}
}

func (m *Metrics) recovered(entityType, source string, seconds float64) {
	if m == nil {
		return
	}
	m.Recoveries.WithLabelValues(entityType, source).Inc()
	m.RecoveryDuration.WithLabelValues(entityType).Observe(seconds)
}

func (m *Metrics) replayed(entityType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EventsReplayed.WithLabelValues(entityType).Add(float64(n))
}

func (m *Metrics) persisted(entityType string, n int) {
	if m == nil {
		return
	}
	m.EventsPersisted.WithLabelValues(entityType).Add(float64(n))
}

func (m *Metrics) conflict(entityType string) {
	if m == nil {
		return
	}
	m.AppendConflicts.WithLabelValues(entityType).Inc()
}

func (m *Metrics) snapshotSaved(entityType string) {
	if m == nil {
		return
	}
	m.SnapshotsSaved.WithLabelValues(entityType).Inc()
}

func (m *Metrics) snapshotFailed(entityType, op string) {
	if m == nil {
		return
	}
	m.SnapshotFailures.WithLabelValues(entityType, op).Inc()
}
