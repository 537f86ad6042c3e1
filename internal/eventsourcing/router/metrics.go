package router

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments instance lifecycle and command round trips.
type Metrics struct {
	Active        *prometheus.GaugeVec
	Activations   *prometheus.CounterVec
	Passivations  *prometheus.CounterVec
	Crashes       *prometheus.CounterVec
	Rejected      *prometheus.CounterVec
	Timeouts      *prometheus.CounterVec
	AskDuration   *prometheus.HistogramVec
	LeaseAcquires *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Active: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "accounts",
			Subsystem: "router",
			Name:      "active_instances",
			Help:      "Live aggregate instances",
		}, []string{"entity_type"}),
		Activations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "router",
			Name:      "activations_total",
			Help:      "Instances started on demand",
		}, []string{"entity_type"}),
		Passivations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "router",
			Name:      "passivations_total",
			Help:      "Instances stopped after the idle window",
		}, []string{"entity_type"}),
		Crashes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "router",
			Name:      "crashes_total",
			Help:      "Instances stopped by a fatal error, by phase",
		}, []string{"entity_type", "phase"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "router",
			Name:      "rejected_commands_total",
			Help:      "Commands refused before reaching an instance",
		}, []string{"entity_type", "reason"}),
		Timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "router",
			Name:      "ask_timeouts_total",
			Help:      "Ask calls that gave up waiting for a reply",
		}, []string{"entity_type"}),
		AskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "accounts",
			Subsystem: "router",
			Name:      "ask_duration_seconds",
			Help:      "Time from dispatch to reply",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity_type", "outcome"}),
		LeaseAcquires: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "router",
			Name:      "lease_acquisitions_total",
			Help:      "Lease acquisition attempts by result",
		}, []string{"entity_type", "result"}),
	}
}

func (m *Metrics) activated(entityType string) {
	if m == nil {
		return
	}
	m.Activations.WithLabelValues(entityType).Inc()
	m.Active.WithLabelValues(entityType).Inc()
}

func (m *Metrics) removed(entityType string) {
	if m == nil {
		return
	}
	m.Active.WithLabelValues(entityType).Dec()
}

func (m *Metrics) passivated(entityType string) {
	if m == nil {
		return
	}
	m.Passivations.WithLabelValues(entityType).Inc()
}

func (m *Metrics) crashed(entityType, phase string) {
	if m == nil {
		return
	}
	m.Crashes.WithLabelValues(entityType, phase).Inc()
}

func (m *Metrics) rejected(entityType, reason string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(entityType, reason).Inc()
}

func (m *Metrics) timedOut(entityType string) {
	if m == nil {
		return
	}
	m.Timeouts.WithLabelValues(entityType).Inc()
}

func (m *Metrics) observeAsk(entityType, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.AskDuration.WithLabelValues(entityType, outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) leaseAttempt(entityType, result string) {
	if m == nil {
		return
	}
	m.LeaseAcquires.WithLabelValues(entityType, result).Inc()
}
