// Package snapshot stores cached fold results that bound replay cost.
//
// Snapshots are never authoritative. Save keeps only the newest N per entity
// and never removes the snapshot it just wrote, so a concurrent Latest always
// finds either the previous newest or the new one.
package snapshot

import (
	"context"
	"time"

	"accounts/internal/eventsourcing/journal"
)

// Snapshot is an encoded state at SequenceNr.
type Snapshot struct {
	PersistenceID journal.PersistenceID
	SequenceNr    int64
	Payload       []byte
	CreatedAt     time.Time
}

// Store persists snapshots with keep-newest-N retention.
type Store interface {
	// Save writes snap and deletes all but the newest keep snapshots of the same entity.
	Save(ctx context.Context, snap Snapshot, keep int) error
	// Latest returns the newest snapshot or sentinel.ErrNotFound.
	Latest(ctx context.Context, pid journal.PersistenceID) (Snapshot, error)
}
