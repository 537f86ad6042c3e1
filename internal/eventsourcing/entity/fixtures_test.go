package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"accounts/internal/eventsourcing/journal"
)

// counter is a minimal aggregate used to exercise the runtime.
type counterState struct {
	Total int `json:"total"`
}

type counterCmd interface{ isCounterCmd() }

type add struct{ N int }
type addTwice struct{ N int }
type ignored struct{}

func (add) isCounterCmd()      {}
func (addTwice) isCounterCmd() {}
func (ignored) isCounterCmd()  {}

type added struct {
	N int `json:"n"`
}

var errNegative = errors.New("negative amounts are rejected")

type counter struct{}

func (counter) EntityType() string        { return "Counter" }
func (counter) EmptyState() counterState { return counterState{} }
func (counter) Tags(added) []string       { return []string{"counters"} }

func (counter) Decide(_ context.Context, _ string, _ counterState, cmd counterCmd) Effect[added] {
	switch c := cmd.(type) {
	case add:
		if c.N < 0 {
			return Reject[added](errNegative)
		}
		return Persist(added{N: c.N})
	case addTwice:
		return Persist(added{N: c.N}, added{N: c.N})
	default:
		return Unhandled[added]()
	}
}

func (counter) Evolve(s counterState, evt added) counterState {
	s.Total += evt.N
	return s
}

type counterCodec struct{}

func (counterCodec) MarshalEvent(evt added) (string, []byte, error) {
	b, err := json.Marshal(evt)
	return "added", b, err
}

func (counterCodec) UnmarshalEvent(manifest string, payload []byte) (added, error) {
	if manifest != "added" {
		return added{}, fmt.Errorf("unknown manifest %q", manifest)
	}
	var evt added
	err := json.Unmarshal(payload, &evt)
	return evt, err
}

func (counterCodec) MarshalState(s counterState) ([]byte, error) {
	return json.Marshal(s)
}

func (counterCodec) UnmarshalState(b []byte) (counterState, error) {
	var s counterState
	err := json.Unmarshal(b, &s)
	return s, err
}

// faultyJournal wraps a journal and injects append or read failures.
type faultyJournal struct {
	journal.Journal
	appendErr func(attempt int) error
	readErr   error
	appends   atomic.Int32
}

func (f *faultyJournal) Append(ctx context.Context, pid journal.PersistenceID, expectedSeq int64, events ...journal.Event) ([]journal.Record, error) {
	n := int(f.appends.Add(1))
	if f.appendErr != nil {
		if err := f.appendErr(n); err != nil {
			return nil, err
		}
	}
	return f.Journal.Append(ctx, pid, expectedSeq, events...)
}

func (f *faultyJournal) ReadFrom(ctx context.Context, pid journal.PersistenceID, afterSeq int64) ([]journal.Record, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.Journal.ReadFrom(ctx, pid, afterSeq)
}
