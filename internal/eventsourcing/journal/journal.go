// Package journal is the durable per-entity event log.
//
// Every entity stream is an append-only, gap-free sequence starting at 1.
// Appends carry the sequence number the writer believes is the current tail;
// a mismatch fails with ErrConcurrencyConflict and nothing is written.
// Every persisted record also receives a global Offset, which orders the
// tagged stream consumed by projections.
package journal

import (
	"context"
	"fmt"
	"slices"
	"time"

	"accounts/pkg/platform/sentinel"
)

// ErrConcurrencyConflict means the expected sequence number did not match the stream tail.
var ErrConcurrencyConflict = fmt.Errorf("journal: expected sequence number is stale: %w", sentinel.ErrConflict)

// PersistenceID names one entity stream.
type PersistenceID struct {
	EntityType string
	EntityID   string
}

func (p PersistenceID) String() string {
	return p.EntityType + "|" + p.EntityID
}

// Event is an encoded event waiting to be appended.
type Event struct {
	Manifest string
	Payload  []byte
	Tags     []string
}

// Record is a persisted event.
type Record struct {
	PersistenceID
	SequenceNr int64
	Manifest   string
	Payload    []byte
	Tags       []string
	Timestamp  time.Time
	Offset     int64
}

// HasTag reports whether the record carries tag.
func (r Record) HasTag(tag string) bool {
	return slices.Contains(r.Tags, tag)
}

// Journal is the write and replay side of the log used by aggregate instances.
type Journal interface {
	// Append writes events after expectedSeq and returns the persisted records.
	Append(ctx context.Context, pid PersistenceID, expectedSeq int64, events ...Event) ([]Record, error)
	// ReadFrom returns the records of pid with SequenceNr > afterSeq, in order.
	ReadFrom(ctx context.Context, pid PersistenceID, afterSeq int64) ([]Record, error)
}

// TaggedReader is the cross-entity read side used by projections.
type TaggedReader interface {
	// ReadTaggedFrom returns up to limit records carrying tag with Offset > afterOffset, in offset order.
	ReadTaggedFrom(ctx context.Context, tag string, afterOffset int64, limit int) ([]Record, error)
}
