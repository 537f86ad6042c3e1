package entity

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Config is the durability policy applied by the runtime.
type Config struct {
	SnapshotEvery int64
	KeepSnapshots int
	// MaxAppendRetries bounds catch-up retries after a conflicting append.
	// Zero keeps the default; there is no retry-free mode.
	MaxAppendRetries int
}

// DefaultConfig snapshots every 100 events, keeps 2 and retries a conflicting append 3 times.
func DefaultConfig() Config {
	return Config{
		SnapshotEvery:    100,
		KeepSnapshots:    2,
		MaxAppendRetries: 3,
	}
}

type options struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a Runtime.
type Option func(*options)

// WithConfig replaces the durability policy. Non-positive fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if cfg.SnapshotEvery > 0 {
			o.cfg.SnapshotEvery = cfg.SnapshotEvery
		}
		if cfg.KeepSnapshots > 0 {
			o.cfg.KeepSnapshots = cfg.KeepSnapshots
		}
		if cfg.MaxAppendRetries > 0 {
			o.cfg.MaxAppendRetries = cfg.MaxAppendRetries
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

func defaultOptions() options {
	return options{
		cfg:    DefaultConfig(),
		logger: slog.Default(),
		tracer: otel.Tracer("accounts/eventsourcing/entity"),
	}
}
