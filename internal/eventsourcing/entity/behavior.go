// Package entity runs event-sourced aggregates.
//
// A Behavior is pure: Decide maps (state, command) to an Effect and Evolve folds
// one event into state. The Runtime owns everything durable around it:
// recovery from snapshot plus replay, optimistic append, snapshot policy and
// reply construction. A reply is only produced after the append succeeded.
package entity

import "context"

// Behavior is the pure command and event logic of one aggregate type.
type Behavior[S, C, E any] interface {
	// EntityType names the aggregate type; it scopes persistence ids.
	EntityType() string
	// EmptyState is the state before any event.
	EmptyState() S
	// Decide chooses what to do with cmd in state. It must not mutate state.
	Decide(ctx context.Context, entityID string, state S, cmd C) Effect[E]
	// Evolve folds evt into state. Unknown combinations return state unchanged.
	Evolve(state S, evt E) S
	// Tags labels evt for cross-entity consumption.
	Tags(evt E) []string
}

// EventCodec encodes events for the journal. Manifest identifies the variant.
type EventCodec[E any] interface {
	MarshalEvent(evt E) (manifest string, payload []byte, err error)
	UnmarshalEvent(manifest string, payload []byte) (E, error)
}

// StateCodec encodes state for snapshots.
type StateCodec[S any] interface {
	MarshalState(state S) ([]byte, error)
	UnmarshalState(payload []byte) (S, error)
}

// Effect is the outcome of Decide.
type Effect[E any] struct {
	events    []E
	err       error
	unhandled bool
}

// Persist appends events and replies with the last one once they are durable.
func Persist[E any](events ...E) Effect[E] {
	return Effect[E]{events: events}
}

// Reject replies with err and persists nothing.
func Reject[E any](err error) Effect[E] {
	return Effect[E]{err: err}
}

// Unhandled persists nothing and produces no reply.
func Unhandled[E any]() Effect[E] {
	return Effect[E]{unhandled: true}
}

func (e Effect[E]) Events() []E       { return e.events }
func (e Effect[E]) Err() error        { return e.err }
func (e Effect[E]) IsUnhandled() bool { return e.unhandled }

// Reply is the result delivered to the command's sender.
type Reply[E any] struct {
	Event E
	Err   error
}
