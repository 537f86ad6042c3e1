package router

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"accounts/internal/eventsourcing/lease"
)

// DefaultAskTimeout bounds how long Ask waits for a reply.
const DefaultAskTimeout = 2 * time.Minute

type options struct {
	askTimeout     time.Duration
	passivateAfter time.Duration
	mailboxSize    int
	leaser         lease.Leaser
	leaseTTL       time.Duration
	leaseWait      time.Duration
	leaseRetry     time.Duration
	logger         *slog.Logger
	metrics        *Metrics
	tracer         trace.Tracer
}

// Option configures a Router.
type Option func(*options)

func WithAskTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.askTimeout = d
		}
	}
}

// WithPassivateAfter sets how long an instance may sit idle before it stops.
func WithPassivateAfter(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.passivateAfter = d
		}
	}
}

// WithMailboxSize bounds the commands queued per instance.
func WithMailboxSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.mailboxSize = n
		}
	}
}

// WithLeaser replaces the in-process leaser, e.g. with a Redis-backed one.
func WithLeaser(l lease.Leaser, ttl, wait time.Duration) Option {
	return func(o *options) {
		if l != nil {
			o.leaser = l
		}
		if ttl > 0 {
			o.leaseTTL = ttl
		}
		if wait > 0 {
			o.leaseWait = wait
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
		askTimeout:     DefaultAskTimeout,
		passivateAfter: 2 * time.Minute,
		mailboxSize:    128,
		leaser:         lease.NewMemory(),
		leaseTTL:       30 * time.Second,
		leaseWait:      10 * time.Second,
		leaseRetry:     25 * time.Millisecond,
		logger:         slog.Default(),
		tracer:         otel.Tracer("accounts/eventsourcing/router"),
	}
}
