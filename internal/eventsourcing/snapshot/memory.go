package snapshot

import (
	"context"
	"slices"
	"sync"
	"time"

	"accounts/internal/eventsourcing/journal"
	"accounts/pkg/platform/sentinel"
)

// Memory keeps snapshots per entity sorted by sequence number.
type Memory struct {
	mu    sync.RWMutex
	snaps map[journal.PersistenceID][]Snapshot
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		snaps: make(map[journal.PersistenceID][]Snapshot),
		now:   time.Now,
	}
}

func (m *Memory) Save(ctx context.Context, snap Snapshot, keep int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = m.now()
	}
	snap.Payload = slices.Clone(snap.Payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.snaps[snap.PersistenceID]
	i, found := slices.BinarySearchFunc(list, snap.SequenceNr, func(s Snapshot, seq int64) int {
		return compare(s.SequenceNr, seq)
	})
	if found {
		list[i] = snap
	} else {
		list = slices.Insert(list, i, snap)
	}
	if keep > 0 && len(list) > keep {
		list = slices.Clone(list[len(list)-keep:])
	}
	m.snaps[snap.PersistenceID] = list
	return nil
}

func (m *Memory) Latest(ctx context.Context, pid journal.PersistenceID) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.snaps[pid]
	if len(list) == 0 {
		return Snapshot{}, sentinel.ErrNotFound
	}
	latest := list[len(list)-1]
	latest.Payload = slices.Clone(latest.Payload)
	return latest, nil
}

// List returns every retained snapshot of pid, oldest first.
func (m *Memory) List(_ context.Context, pid journal.PersistenceID) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.snaps[pid]), nil
}

func compare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
