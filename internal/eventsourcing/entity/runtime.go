package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"accounts/internal/eventsourcing/journal"
	"accounts/internal/eventsourcing/snapshot"
	dErrors "accounts/pkg/domain-errors"
	"accounts/pkg/platform/sentinel"
)

// Runtime holds the collaborators shared by every instance of one aggregate type.
type Runtime[S, C, E any] struct {
	behavior  Behavior[S, C, E]
	events    EventCodec[E]
	states    StateCodec[S]
	journal   journal.Journal
	snapshots snapshot.Store
	options
}

// NewRuntime wires a behavior to its storage. snapshots may be nil to disable snapshotting.
func NewRuntime[S, C, E any](
	behavior Behavior[S, C, E],
	events EventCodec[E],
	states StateCodec[S],
	j journal.Journal,
	snapshots snapshot.Store,
	opts ...Option,
) *Runtime[S, C, E] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Runtime[S, C, E]{
		behavior:  behavior,
		events:    events,
		states:    states,
		journal:   j,
		snapshots: snapshots,
		options:   o,
	}
}

// EntityType returns the behavior's entity type.
func (rt *Runtime[S, C, E]) EntityType() string {
	return rt.behavior.EntityType()
}

// Config returns the effective durability policy.
func (rt *Runtime[S, C, E]) Config() Config {
	return rt.cfg
}

// Entity is one recovered aggregate instance. It is not safe for concurrent use;
// the router guarantees a single goroutine drives it.
type Entity[S, C, E any] struct {
	rt    *Runtime[S, C, E]
	pid   journal.PersistenceID
	state S
	seq   int64
	fence func(context.Context) error
}

// FenceWith installs an ownership check run before every retried append.
// A conflicting append means another writer got in, so the instance must
// prove it still owns the entity before catching up and writing again.
func (e *Entity[S, C, E]) FenceWith(check func(context.Context) error) {
	e.fence = check
}

// Recover rebuilds the entity from its newest snapshot and the events after it.
// A snapshot that cannot be decoded is skipped in favour of a full replay.
func (rt *Runtime[S, C, E]) Recover(ctx context.Context, entityID string) (*Entity[S, C, E], error) {
	start := time.Now()
	pid := journal.PersistenceID{EntityType: rt.EntityType(), EntityID: entityID}
	ctx, span := rt.tracer.Start(ctx, "entity.recover", trace.WithAttributes(
		attribute.String("entity.type", pid.EntityType),
		attribute.String("entity.id", entityID),
	))
	defer span.End()

	e := &Entity[S, C, E]{rt: rt, pid: pid, state: rt.behavior.EmptyState()}
	source := "replay"

	if rt.snapshots != nil {
		snap, err := rt.snapshots.Latest(ctx, pid)
		switch {
		case err == nil:
			state, decErr := rt.states.UnmarshalState(snap.Payload)
			if decErr != nil {
				rt.metrics.snapshotFailed(pid.EntityType, "decode")
				rt.logger.WarnContext(ctx, "discarding undecodable snapshot",
					"entity_type", pid.EntityType,
					"entity_id", entityID,
					"sequence_nr", snap.SequenceNr,
					"error", decErr,
				)
				break
			}
			e.state = state
			e.seq = snap.SequenceNr
			source = "snapshot"
		case errors.Is(err, sentinel.ErrNotFound):
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "load snapshot")
			return nil, dErrors.Wrap(err, dErrors.CodePersistenceFailure, "failed to load snapshot")
		}
	}

	if err := e.catchUp(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "replay")
		return nil, err
	}

	rt.metrics.recovered(pid.EntityType, source, time.Since(start).Seconds())
	span.SetAttributes(attribute.Int64("entity.sequence_nr", e.seq))
	rt.logger.DebugContext(ctx, "entity recovered",
		"entity_type", pid.EntityType,
		"entity_id", entityID,
		"sequence_nr", e.seq,
		"source", source,
	)
	return e, nil
}

// catchUp folds every event after the current sequence number.
func (e *Entity[S, C, E]) catchUp(ctx context.Context) error {
	records, err := e.rt.journal.ReadFrom(ctx, e.pid, e.seq)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistenceFailure, "failed to read events")
	}
	for _, rec := range records {
		if rec.SequenceNr != e.seq+1 {
			return dErrors.Wrap(
				fmt.Errorf("expected sequence %d, got %d: %w", e.seq+1, rec.SequenceNr, sentinel.ErrInvalidState),
				dErrors.CodePersistenceFailure, "event stream has a gap")
		}
		evt, err := e.rt.events.UnmarshalEvent(rec.Manifest, rec.Payload)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistenceFailure,
				fmt.Sprintf("failed to decode event %d", rec.SequenceNr))
		}
		e.state = e.rt.behavior.Evolve(e.state, evt)
		e.seq = rec.SequenceNr
	}
	e.rt.metrics.replayed(e.pid.EntityType, len(records))
	return nil
}

// Handle decides cmd against the current state, persists the resulting events
// and returns the reply. replied is false when the behavior left cmd unhandled.
//
// A non-nil error is fatal to this instance: the journal could not be written
// or read, or conflicting appends exhausted the retry budget. The entity must
// be discarded and recovered again.
func (e *Entity[S, C, E]) Handle(ctx context.Context, cmd C) (reply Reply[E], replied bool, err error) {
	ctx, span := e.rt.tracer.Start(ctx, "entity.handle", trace.WithAttributes(
		attribute.String("entity.type", e.pid.EntityType),
		attribute.String("entity.id", e.pid.EntityID),
		attribute.String("command", fmt.Sprintf("%T", cmd)),
	))
	defer span.End()

	for attempt := 0; ; attempt++ {
		effect := e.rt.behavior.Decide(ctx, e.pid.EntityID, e.state, cmd)
		switch {
		case effect.IsUnhandled():
			return Reply[E]{}, false, nil
		case effect.Err() != nil:
			return Reply[E]{Err: effect.Err()}, true, nil
		case len(effect.Events()) == 0:
			return Reply[E]{}, true, nil
		}

		batch, encErr := e.encode(effect.Events())
		if encErr != nil {
			return Reply[E]{Err: encErr}, true, nil
		}

		records, appendErr := e.rt.journal.Append(ctx, e.pid, e.seq, batch...)
		if appendErr == nil {
			e.apply(ctx, effect.Events(), records)
			span.SetAttributes(attribute.Int64("entity.sequence_nr", e.seq))
			events := effect.Events()
			return Reply[E]{Event: events[len(events)-1]}, true, nil
		}

		if !errors.Is(appendErr, sentinel.ErrConflict) {
			span.RecordError(appendErr)
			span.SetStatus(codes.Error, "append")
			return Reply[E]{}, false, dErrors.Wrap(appendErr, dErrors.CodePersistenceFailure, "failed to append events")
		}

		e.rt.metrics.conflict(e.pid.EntityType)
		if attempt >= e.rt.cfg.MaxAppendRetries {
			span.SetStatus(codes.Error, "conflict retries exhausted")
			conflict := dErrors.Wrap(appendErr, dErrors.CodeConcurrencyConflict, "concurrent writer detected")
			return Reply[E]{}, false, dErrors.Wrap(conflict, dErrors.CodePersistenceFailure,
				fmt.Sprintf("append still conflicting after %d retries", attempt))
		}
		if e.fence != nil {
			if err := e.fence(ctx); err != nil {
				span.SetStatus(codes.Error, "fenced")
				return Reply[E]{}, false, dErrors.Wrap(err, dErrors.CodeUnavailable, "entity ownership lost before retry")
			}
		}
		e.rt.logger.WarnContext(ctx, "append conflict, catching up",
			"entity_type", e.pid.EntityType,
			"entity_id", e.pid.EntityID,
			"expected_seq", e.seq,
			"attempt", attempt+1,
		)
		if cuErr := e.catchUp(ctx); cuErr != nil {
			return Reply[E]{}, false, cuErr
		}
	}
}

func (e *Entity[S, C, E]) encode(events []E) ([]journal.Event, error) {
	batch := make([]journal.Event, 0, len(events))
	for _, evt := range events {
		manifest, payload, err := e.rt.events.MarshalEvent(evt)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode event")
		}
		batch = append(batch, journal.Event{
			Manifest: manifest,
			Payload:  payload,
			Tags:     e.rt.behavior.Tags(evt),
		})
	}
	return batch, nil
}

// apply folds persisted events and snapshots on every SnapshotEvery boundary.
func (e *Entity[S, C, E]) apply(ctx context.Context, events []E, records []journal.Record) {
	for i, evt := range events {
		e.state = e.rt.behavior.Evolve(e.state, evt)
		e.seq = records[i].SequenceNr
		if e.rt.snapshots != nil && e.seq%e.rt.cfg.SnapshotEvery == 0 {
			e.snapshot(ctx)
		}
	}
	e.rt.metrics.persisted(e.pid.EntityType, len(events))
}

// snapshot failures are logged only; the events are already durable.
func (e *Entity[S, C, E]) snapshot(ctx context.Context) {
	payload, err := e.rt.states.MarshalState(e.state)
	if err == nil {
		err = e.rt.snapshots.Save(ctx, snapshot.Snapshot{
			PersistenceID: e.pid,
			SequenceNr:    e.seq,
			Payload:       payload,
		}, e.rt.cfg.KeepSnapshots)
	}
	if err != nil {
		e.rt.metrics.snapshotFailed(e.pid.EntityType, "save")
		e.rt.logger.WarnContext(ctx, "snapshot failed",
			"entity_type", e.pid.EntityType,
			"entity_id", e.pid.EntityID,
			"sequence_nr", e.seq,
			"error", err,
		)
		return
	}
	e.rt.metrics.snapshotSaved(e.pid.EntityType)
}

func (e *Entity[S, C, E]) ID() string                           { return e.pid.EntityID }
func (e *Entity[S, C, E]) PersistenceID() journal.PersistenceID { return e.pid }
func (e *Entity[S, C, E]) State() S                             { return e.state }
func (e *Entity[S, C, E]) SequenceNr() int64                    { return e.seq }
