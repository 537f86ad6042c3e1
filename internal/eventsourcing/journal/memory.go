package journal

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is an in-process journal. Offsets are positions in a single global log.
type Memory struct {
	mu      sync.RWMutex
	streams map[PersistenceID][]Record
	log     []Record
	now     func() time.Time
}

// MemoryOption configures a Memory journal.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the timestamp source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		streams: make(map[PersistenceID][]Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Append(ctx context.Context, pid PersistenceID, expectedSeq int64, events ...Event) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[pid]
	if int64(len(stream)) != expectedSeq {
		return nil, ErrConcurrencyConflict
	}

	now := m.now()
	out := make([]Record, 0, len(events))
	for i, evt := range events {
		rec := Record{
			PersistenceID: pid,
			SequenceNr:    expectedSeq + int64(i) + 1,
			Manifest:      evt.Manifest,
			Payload:       slices.Clone(evt.Payload),
			Tags:          slices.Clone(evt.Tags),
			Timestamp:     now,
			Offset:        int64(len(m.log)) + 1,
		}
		m.log = append(m.log, rec)
		stream = append(stream, rec)
		out = append(out, rec)
	}
	m.streams[pid] = stream
	return out, nil
}

func (m *Memory) ReadFrom(ctx context.Context, pid PersistenceID, afterSeq int64) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	stream := m.streams[pid]
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(stream)) {
		return nil, nil
	}
	return slices.Clone(stream[afterSeq:]), nil
}

func (m *Memory) ReadTaggedFrom(ctx context.Context, tag string, afterOffset int64, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if afterOffset < 0 {
		afterOffset = 0
	}
	var out []Record
	for _, rec := range m.log[min(afterOffset, int64(len(m.log))):] {
		if !rec.HasTag(tag) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of records in pid's stream.
func (m *Memory) Len(pid PersistenceID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[pid])
}
