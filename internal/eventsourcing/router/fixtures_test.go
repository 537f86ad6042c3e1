package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"accounts/internal/eventsourcing/entity"
	"accounts/internal/eventsourcing/journal"
)

type tallyCmd interface{ isTallyCmd() }

type (
	inc     struct{}
	hold    struct{}
	explode struct{}
	noop    struct{}
	deny    struct{}
)

func (inc) isTallyCmd()     {}
func (hold) isTallyCmd()    {}
func (explode) isTallyCmd() {}
func (noop) isTallyCmd()    {}
func (deny) isTallyCmd()    {}

type bumped struct {
	Total int `json:"total"`
}

var errDenied = errors.New("denied")

// tally counts commands. hold blocks inside Decide until released.
type tally struct {
	entered chan string
	release chan struct{}
}

func newTally() *tally {
	return &tally{entered: make(chan string, 16), release: make(chan struct{})}
}

func (*tally) EntityType() string { return "Tally" }
func (*tally) EmptyState() int    { return 0 }
func (*tally) Tags(bumped) []string {
	return []string{"tallies"}
}

func (t *tally) Decide(_ context.Context, id string, state int, cmd tallyCmd) entity.Effect[bumped] {
	switch cmd.(type) {
	case inc:
		return entity.Persist(bumped{Total: state + 1})
	case hold:
		t.entered <- id
		<-t.release
		return entity.Persist(bumped{Total: state + 1})
	case explode:
		panic("boom")
	case deny:
		return entity.Reject[bumped](errDenied)
	default:
		return entity.Unhandled[bumped]()
	}
}

func (*tally) Evolve(_ int, evt bumped) int {
	return evt.Total
}

type tallyCodec struct{}

func (tallyCodec) MarshalEvent(evt bumped) (string, []byte, error) {
	b, err := json.Marshal(evt)
	return "bumped", b, err
}

func (tallyCodec) UnmarshalEvent(_ string, payload []byte) (bumped, error) {
	var evt bumped
	err := json.Unmarshal(payload, &evt)
	return evt, err
}

func (tallyCodec) MarshalState(s int) ([]byte, error) { return json.Marshal(s) }

func (tallyCodec) UnmarshalState(b []byte) (int, error) {
	var s int
	err := json.Unmarshal(b, &s)
	return s, err
}

// flakyJournal fails the next failAppends appends, optionally waiting on gate first.
type flakyJournal struct {
	journal.Journal
	failAppends atomic.Int32
	failReads   atomic.Int32
	gate        chan struct{}
}

var errDiskFull = errors.New("disk full")

func (f *flakyJournal) Append(ctx context.Context, pid journal.PersistenceID, expectedSeq int64, events ...journal.Event) ([]journal.Record, error) {
	if f.failAppends.Add(-1) >= 0 {
		if f.gate != nil {
			<-f.gate
		}
		return nil, errDiskFull
	}
	return f.Journal.Append(ctx, pid, expectedSeq, events...)
}

func (f *flakyJournal) ReadFrom(ctx context.Context, pid journal.PersistenceID, afterSeq int64) ([]journal.Record, error) {
	if f.failReads.Add(-1) >= 0 {
		return nil, errDiskFull
	}
	return f.Journal.ReadFrom(ctx, pid, afterSeq)
}
