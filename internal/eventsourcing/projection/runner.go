package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"accounts/internal/eventsourcing/journal"
	"accounts/pkg/platform/sentinel"
)

type options struct {
	saveEvery    int
	saveAfter    time.Duration
	batchSize    int
	pollInterval time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration
	logger       *slog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
}

// Option configures a Runner.
type Option func(*options)

// WithCheckpointPolicy saves the offset after every n records or once the
// oldest unsaved record is older than d, whichever comes first.
func WithCheckpointPolicy(n int, d time.Duration) Option {
	return func(o *options) {
		if n > 0 {
			o.saveEvery = n
		}
		if d > 0 {
			o.saveAfter = d
		}
	}
}

// WithPolling sets the read batch size and the idle poll interval.
func WithPolling(batchSize int, interval time.Duration) Option {
	return func(o *options) {
		if batchSize > 0 {
			o.batchSize = batchSize
		}
		if interval > 0 {
			o.pollInterval = interval
		}
	}
}

// WithBackoff bounds the exponential restart delay.
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(o *options) {
		if minDelay > 0 {
			o.minBackoff = minDelay
		}
		if maxDelay >= o.minBackoff {
			o.maxBackoff = maxDelay
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

// Runner drives one projection.
type Runner struct {
	id          ID
	source      journal.TaggedReader
	checkpoints CheckpointStore
	handler     Handler
	options

	offset atomic.Int64
}

func New(id ID, source journal.TaggedReader, checkpoints CheckpointStore, handler Handler, opts ...Option) *Runner {
	o := options{
		saveEvery:    100,
		saveAfter:    500 * time.Millisecond,
		batchSize:    256,
		pollInterval: 250 * time.Millisecond,
		minBackoff:   time.Second,
		maxBackoff:   30 * time.Second,
		logger:       slog.Default(),
		tracer:       otel.Tracer("accounts/eventsourcing/projection"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Runner{
		id:          id,
		source:      source,
		checkpoints: checkpoints,
		handler:     handler,
		options:     o,
	}
}

// ID returns the projection id.
func (r *Runner) ID() ID {
	return r.id
}

// Offset returns the last applied offset, which may be ahead of the persisted checkpoint.
func (r *Runner) Offset() int64 {
	return r.offset.Load()
}

// Run consumes the stream until ctx is cancelled. Failures restart consumption
// from the persisted checkpoint after a backoff. Cancellation flushes the
// in-memory offset and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	logger := r.logger.With("projection", r.id.String())
	backoff := r.minBackoff
	for {
		progressed, err := r.runOnce(ctx, logger)
		if ctx.Err() != nil || err == nil {
			return nil
		}
		if progressed {
			backoff = r.minBackoff
		}
		r.metrics.restarted(r.id.Name)
		logger.ErrorContext(ctx, "projection failed, restarting from checkpoint",
			"error", err,
			"offset", r.offset.Load(),
			"backoff", backoff,
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff = min(backoff*2, r.maxBackoff)
	}
}

func (r *Runner) runOnce(ctx context.Context, logger *slog.Logger) (progressed bool, err error) {
	cursor, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	r.offset.Store(cursor)
	r.metrics.setOffset(r.id.Name, cursor)
	logger.InfoContext(ctx, "projection started", "offset", cursor)

	var pending int
	var oldestPending time.Time

	save := func(ctx context.Context) error {
		if pending == 0 {
			return nil
		}
		if err := r.checkpoints.Save(ctx, Checkpoint{ProjectionID: r.id.String(), Offset: cursor}); err != nil {
			return fmt.Errorf("save checkpoint at %d: %w", cursor, err)
		}
		r.metrics.checkpointSaved(r.id.Name)
		pending = 0
		return nil
	}
	stop := func() (bool, error) {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := save(flushCtx); err != nil {
			logger.WarnContext(flushCtx, "final checkpoint flush failed", "error", err, "offset", cursor)
		}
		return progressed, nil
	}

	for {
		records, err := r.source.ReadTaggedFrom(ctx, r.id.Tag, cursor, r.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return stop()
			}
			return progressed, fmt.Errorf("read tag %s after %d: %w", r.id.Tag, cursor, err)
		}

		if len(records) > 0 {
			applied, err := r.applyBatch(ctx, records, func(rec journal.Record) error {
				cursor = rec.Offset
				r.offset.Store(cursor)
				progressed = true
				pending++
				if pending == 1 {
					oldestPending = time.Now()
				}
				if pending >= r.saveEvery {
					return save(ctx)
				}
				return nil
			})
			r.metrics.applied(r.id.Name, applied)
			r.metrics.setOffset(r.id.Name, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return stop()
				}
				return progressed, err
			}
		}

		if pending > 0 && time.Since(oldestPending) >= r.saveAfter {
			if err := save(ctx); err != nil {
				return progressed, err
			}
		}
		if len(records) == r.batchSize {
			continue
		}

		wait := r.pollInterval
		if pending > 0 {
			wait = max(min(wait, r.saveAfter-time.Since(oldestPending)), 0)
		}
		select {
		case <-ctx.Done():
			return stop()
		case <-time.After(wait):
		}
	}
}

func (r *Runner) applyBatch(ctx context.Context, records []journal.Record, advance func(journal.Record) error) (int, error) {
	ctx, span := r.tracer.Start(ctx, "projection.batch", trace.WithAttributes(
		attribute.String("projection.id", r.id.String()),
		attribute.Int("projection.batch_size", len(records)),
		attribute.Int64("projection.from_offset", records[0].Offset),
	))
	defer span.End()

	for i, rec := range records {
		if err := r.handler.Process(ctx, rec); err != nil {
			span.RecordError(err)
			return i, fmt.Errorf("apply offset %d (%s seq %d): %w", rec.Offset, rec.PersistenceID, rec.SequenceNr, err)
		}
		if err := advance(rec); err != nil {
			span.RecordError(err)
			return i + 1, err
		}
	}
	return len(records), nil
}

func (r *Runner) load(ctx context.Context) (int64, error) {
	cp, err := r.checkpoints.Load(ctx, r.id.String())
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp.Offset, nil
}
