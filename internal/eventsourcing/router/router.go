// Package router delivers commands to the single live instance of an entity.
//
// Each entity id maps to at most one instance goroutine in the registry. An
// instance owns a bounded mailbox and processes one command at a time, so
// commands for one id are serialized in delivery order while different ids
// run in parallel. Instances start on first dispatch (lease, then snapshot and
// replay), stop after an idle window, and are discarded on a fatal error.
//
// All mailbox sends happen under the registry lock. That makes "is the mailbox
// empty" a stable question when an instance decides to passivate or when a
// crashed instance hands its queued commands to a replacement.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"accounts/internal/eventsourcing/entity"
	"accounts/internal/eventsourcing/journal"
	"accounts/internal/eventsourcing/lease"
	dErrors "accounts/pkg/domain-errors"
	"accounts/pkg/platform/sentinel"
)

var errStopped = dErrors.Wrap(sentinel.ErrStopped, dErrors.CodeUnavailable, "router is stopped")

type request[C, E any] struct {
	ctx           context.Context
	cmd           C
	reply         chan entity.Reply[E]
	correlationID string
}

type instance[C, E any] struct {
	id      string
	mailbox chan request[C, E]
}

// Router owns the registry of live instances for one entity type.
type Router[S, C, E any] struct {
	runtime    *entity.Runtime[S, C, E]
	entityType string
	options

	mu        sync.Mutex
	instances map[string]*instance[C, E]
	stopped   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a router for the runtime's entity type.
func New[S, C, E any](rt *entity.Runtime[S, C, E], opts ...Option) *Router[S, C, E] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router[S, C, E]{
		runtime:    rt,
		entityType: rt.EntityType(),
		options:    o,
		instances:  make(map[string]*instance[C, E]),
		stopCh:     make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Dispatch hands cmd to the instance owning entityID and returns immediately.
// The channel receives exactly one reply, or none if the entity ignores cmd.
// Once accepted, cmd runs to completion even if the caller stops waiting.
func (r *Router[S, C, E]) Dispatch(ctx context.Context, entityID string, cmd C) <-chan entity.Reply[E] {
	reply := make(chan entity.Reply[E], 1)
	if entityID == "" {
		reply <- entity.Reply[E]{Err: dErrors.New(dErrors.CodeValidation, "entity id is required")}
		return reply
	}
	req := request[C, E]{ctx: ctx, cmd: cmd, reply: reply, correlationID: uuid.NewString()}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		r.metrics.rejected(r.entityType, "stopped")
		reply <- entity.Reply[E]{Err: errStopped}
		return reply
	}
	inst, ok := r.instances[entityID]
	if !ok {
		inst = r.spawnLocked(entityID)
	}
	select {
	case inst.mailbox <- req:
	default:
		r.metrics.rejected(r.entityType, "mailbox_full")
		reply <- entity.Reply[E]{Err: dErrors.New(dErrors.CodeUnavailable, "entity mailbox is full")}
	}
	return reply
}

// Ask dispatches cmd and waits for the reply, bounded by the ask timeout or
// ctx, whichever ends first. Expiry returns a CodeTimeout error; the command
// itself may still complete.
func (r *Router[S, C, E]) Ask(ctx context.Context, entityID string, cmd C) (E, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "router.ask", trace.WithAttributes(
		attribute.String("entity.type", r.entityType),
		attribute.String("entity.id", entityID),
		attribute.String("command", fmt.Sprintf("%T", cmd)),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.askTimeout)
	defer cancel()

	var zero E
	select {
	case reply := <-r.Dispatch(ctx, entityID, cmd):
		outcome := "ok"
		if reply.Err != nil {
			outcome = "error"
			span.RecordError(reply.Err)
		}
		r.metrics.observeAsk(r.entityType, outcome, start)
		return reply.Event, reply.Err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.metrics.timedOut(r.entityType)
			r.metrics.observeAsk(r.entityType, "timeout", start)
			span.SetStatus(codes.Error, "timeout")
			return zero, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "no reply within the ask timeout")
		}
		return zero, ctx.Err()
	}
}

// Active returns the number of live instances.
func (r *Router[S, C, E]) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Stop refuses new commands, stops every instance and waits for them to exit.
// Commands still queued fail with CodeUnavailable.
func (r *Router[S, C, E]) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.stopCh)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	defer r.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router[S, C, E]) spawnLocked(entityID string) *instance[C, E] {
	inst := &instance[C, E]{
		id:      entityID,
		mailbox: make(chan request[C, E], r.mailboxSize),
	}
	r.instances[entityID] = inst
	r.metrics.activated(r.entityType)
	r.wg.Add(1)
	go r.run(inst)
	return inst
}

func (r *Router[S, C, E]) removeLocked(inst *instance[C, E]) {
	if r.instances[inst.id] == inst {
		delete(r.instances, inst.id)
		r.metrics.removed(r.entityType)
	}
}

func drainLocked[C, E any](inst *instance[C, E]) []request[C, E] {
	var queued []request[C, E]
	for {
		select {
		case req := <-inst.mailbox:
			queued = append(queued, req)
		default:
			return queued
		}
	}
}

func (r *Router[S, C, E]) run(inst *instance[C, E]) {
	defer r.wg.Done()
	ctx := r.ctx
	logger := r.logger.With("entity_type", r.entityType, "entity_id", inst.id)

	held, err := r.acquireLease(ctx, inst.id)
	if err != nil {
		logger.ErrorContext(ctx, "lease acquisition failed", "error", err)
		r.abandon(inst, "lease", dErrors.Wrap(err, dErrors.CodeUnavailable, "entity ownership unavailable"))
		return
	}

	ent, err := r.runtime.Recover(ctx, inst.id)
	if err != nil {
		logger.ErrorContext(ctx, "recovery failed", "error", err)
		r.releaseLease(held, logger)
		r.abandon(inst, "recovery", err)
		return
	}
	logger = logger.With("lease_token", held.Token())
	ent.FenceWith(held.Renew)

	idle := time.NewTimer(r.passivateAfter)
	defer idle.Stop()
	renew := time.NewTicker(max(r.leaseTTL/3, 10*time.Millisecond))
	defer renew.Stop()

	for {
		select {
		case req := <-inst.mailbox:
			if fatal := r.process(ctx, ent, req, logger); fatal != nil {
				r.releaseLease(held, logger)
				r.crash(inst, "command", fatal, logger)
				return
			}
			idle.Reset(r.passivateAfter)

		case <-idle.C:
			if r.tryPassivate(inst) {
				r.releaseLease(held, logger)
				r.metrics.passivated(r.entityType)
				logger.DebugContext(ctx, "instance passivated", "sequence_nr", ent.SequenceNr())
				return
			}
			idle.Reset(r.passivateAfter)

		case <-renew.C:
			if err := held.Renew(ctx); err != nil {
				r.releaseLease(held, logger)
				r.crash(inst, "lease", dErrors.Wrap(err, dErrors.CodeUnavailable, "entity ownership lost"), logger)
				return
			}

		case <-r.stopCh:
			r.shutdown(inst)
			r.releaseLease(held, logger)
			return
		}
	}
}

// process runs one command and delivers its reply. A returned error is fatal
// to the instance; the command's sender has already received it.
func (r *Router[S, C, E]) process(ctx context.Context, ent *entity.Entity[S, C, E], req request[C, E], logger *slog.Logger) (fatal error) {
	ctx = trace.ContextWithSpanContext(ctx, trace.SpanContextFromContext(req.ctx))

	defer func() {
		if p := recover(); p != nil {
			fatal = dErrors.New(dErrors.CodeInternal, fmt.Sprintf("entity panicked: %v", p))
			logger.ErrorContext(ctx, "instance panicked",
				"correlation_id", req.correlationID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			req.reply <- entity.Reply[E]{Err: fatal}
		}
	}()

	reply, replied, err := ent.Handle(ctx, req.cmd)
	if err != nil {
		logger.ErrorContext(ctx, "command failed, stopping instance",
			"correlation_id", req.correlationID,
			"sequence_nr", ent.SequenceNr(),
			"error", err,
		)
		req.reply <- entity.Reply[E]{Err: err}
		return err
	}
	if replied {
		req.reply <- reply
	}
	return nil
}

// crash discards inst. Commands it had not started yet move, in order, to a
// fresh instance that recovers from the journal before running them.
func (r *Router[S, C, E]) crash(inst *instance[C, E], phase string, cause error, logger *slog.Logger) {
	r.metrics.crashed(r.entityType, phase)

	r.mu.Lock()
	r.removeLocked(inst)
	queued := drainLocked(inst)
	var next *instance[C, E]
	if len(queued) > 0 && !r.stopped {
		next = r.spawnLocked(inst.id)
	}
	for _, req := range queued {
		if next == nil {
			req.reply <- entity.Reply[E]{Err: errStopped}
			continue
		}
		next.mailbox <- req
	}
	r.mu.Unlock()

	logger.ErrorContext(r.ctx, "instance crashed", "phase", phase, "error", cause, "requeued", len(queued))
}

// abandon discards an instance that never became ready and fails its queue.
func (r *Router[S, C, E]) abandon(inst *instance[C, E], phase string, cause error) {
	r.metrics.crashed(r.entityType, phase)

	r.mu.Lock()
	r.removeLocked(inst)
	queued := drainLocked(inst)
	r.mu.Unlock()

	for _, req := range queued {
		req.reply <- entity.Reply[E]{Err: cause}
	}
}

func (r *Router[S, C, E]) shutdown(inst *instance[C, E]) {
	r.mu.Lock()
	r.removeLocked(inst)
	queued := drainLocked(inst)
	r.mu.Unlock()

	for _, req := range queued {
		req.reply <- entity.Reply[E]{Err: errStopped}
	}
}

func (r *Router[S, C, E]) tryPassivate(inst *instance[C, E]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(inst.mailbox) > 0 {
		return false
	}
	r.removeLocked(inst)
	return true
}

// acquireLease polls until the entity's lease is free or the wait expires.
// A previous owner that is passivating releases shortly after it leaves the registry.
func (r *Router[S, C, E]) acquireLease(ctx context.Context, entityID string) (lease.Lease, error) {
	key := journal.PersistenceID{EntityType: r.entityType, EntityID: entityID}.String()
	deadline := time.Now().Add(r.leaseWait)
	for {
		held, err := r.leaser.Acquire(ctx, key, r.leaseTTL)
		if err == nil {
			r.metrics.leaseAttempt(r.entityType, "acquired")
			return held, nil
		}
		if !errors.Is(err, lease.ErrHeld) || !time.Now().Before(deadline) {
			r.metrics.leaseAttempt(r.entityType, "failed")
			return nil, err
		}
		select {
		case <-time.After(r.leaseRetry):
		case <-r.stopCh:
			return nil, sentinel.ErrStopped
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Router[S, C, E]) releaseLease(held lease.Lease, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 5*time.Second)
	defer cancel()
	if err := held.Release(ctx); err != nil {
		logger.WarnContext(ctx, "lease release failed", "error", err, "lease_token", held.Token())
	}
}
