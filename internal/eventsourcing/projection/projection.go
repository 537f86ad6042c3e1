// Package projection folds the tagged event stream into read models.
//
// A Runner tails one tag from its last persisted checkpoint, hands each record
// to a Handler and saves its offset in batches. After a failure it restarts
// from the persisted checkpoint, so records after it are delivered again:
// handlers must be idempotent.
package projection

import (
	"context"
	"time"

	"accounts/internal/eventsourcing/journal"
)

// ID names a projection: one handler over one tag.
type ID struct {
	Name string
	Tag  string
}

func (id ID) String() string {
	return id.Name + "|" + id.Tag
}

// Checkpoint is the offset of the last record a projection applied.
type Checkpoint struct {
	ProjectionID string
	Offset       int64
	UpdatedAt    time.Time
}

// CheckpointStore persists projection progress.
type CheckpointStore interface {
	// Load returns the checkpoint or sentinel.ErrNotFound.
	Load(ctx context.Context, projectionID string) (Checkpoint, error)
	Save(ctx context.Context, cp Checkpoint) error
}

// Handler applies one record to a read model.
type Handler interface {
	Process(ctx context.Context, rec journal.Record) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, rec journal.Record) error

func (f HandlerFunc) Process(ctx context.Context, rec journal.Record) error {
	return f(ctx, rec)
}
