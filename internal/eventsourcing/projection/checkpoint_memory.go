package projection

import (
	"context"
	"sync"
	"time"

	"accounts/pkg/platform/sentinel"
)

// MemoryCheckpoints keeps checkpoints in process memory.
type MemoryCheckpoints struct {
	mu    sync.RWMutex
	items map[string]Checkpoint
	saves int
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{items: make(map[string]Checkpoint)}
}

func (m *MemoryCheckpoints) Load(ctx context.Context, projectionID string) (Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.items[projectionID]
	if !ok {
		return Checkpoint{}, sentinel.ErrNotFound
	}
	return cp, nil
}

func (m *MemoryCheckpoints) Save(ctx context.Context, cp Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.items[cp.ProjectionID]; ok && existing.Offset > cp.Offset {
		return nil
	}
	m.items[cp.ProjectionID] = cp
	m.saves++
	return nil
}

// Saves returns how many times a checkpoint was written.
func (m *MemoryCheckpoints) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
