// Package kafkasink publishes tagged journal records to a Kafka topic.
//
// It is a projection Handler: the runner's checkpoint gives at-least-once
// publication. Records are keyed by persistence id so one entity's events stay
// in one partition and keep their order. Consumers deduplicate on the
// persistence-id and sequence-nr headers.
package kafkasink

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kgo"

	"accounts/internal/eventsourcing/journal"
	"accounts/pkg/platform/circuit"
	"accounts/pkg/platform/sentinel"
)

// Header keys attached to every published record.
const (
	HeaderPersistenceID = "persistence-id"
	HeaderSequenceNr    = "sequence-nr"
	HeaderManifest      = "manifest"
	HeaderOffset        = "journal-offset"
)

// Producer is the subset of *kgo.Client the sink needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Metrics counts publish outcomes.
type Metrics struct {
	Published *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Published: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "accounts",
			Subsystem: "kafka_sink",
			Name:      "records_total",
			Help:      "Records published to Kafka by result (ok, error, rejected)",
		}, []string{"topic", "result"}),
	}
}

func (m *Metrics) inc(topic, result string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(topic, result).Inc()
}

// Sink publishes records to one topic.
type Sink struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *Metrics
}

// Option configures a Sink.
type Option func(*Sink)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Sink) {
		s.metrics = m
	}
}

// WithBreaker replaces the default breaker (5 failures, 30s cooldown).
func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Sink) {
		if b != nil {
			s.breaker = b
		}
	}
}

func New(producer Producer, topic string, opts ...Option) *Sink {
	s := &Sink{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("kafka:"+topic, circuit.WithCooldown(30*time.Second)),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process publishes rec and waits for the broker acknowledgement.
func (s *Sink) Process(ctx context.Context, rec journal.Record) error {
	if !s.breaker.Allow() {
		s.metrics.inc(s.topic, "rejected")
		return fmt.Errorf("publish to %s: circuit open: %w", s.topic, sentinel.ErrUnavailable)
	}

	err := s.producer.ProduceSync(ctx, s.toKafka(rec)).FirstErr()
	if err != nil {
		s.metrics.inc(s.topic, "error")
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "kafka circuit opened", "topic", s.topic, "error", err)
		}
		return fmt.Errorf("publish %s seq %d to %s: %w", rec.PersistenceID, rec.SequenceNr, s.topic, err)
	}

	s.metrics.inc(s.topic, "ok")
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "kafka circuit closed", "topic", s.topic)
	}
	return nil
}

func (s *Sink) toKafka(rec journal.Record) *kgo.Record {
	return &kgo.Record{
		Topic:     s.topic,
		Key:       []byte(rec.PersistenceID.String()),
		Value:     rec.Payload,
		Timestamp: rec.Timestamp,
		Headers: []kgo.RecordHeader{
			{Key: HeaderPersistenceID, Value: []byte(rec.PersistenceID.String())},
			{Key: HeaderSequenceNr, Value: []byte(strconv.FormatInt(rec.SequenceNr, 10))},
			{Key: HeaderManifest, Value: []byte(rec.Manifest)},
			{Key: HeaderOffset, Value: []byte(strconv.FormatInt(rec.Offset, 10))},
		},
	}
}
