package readmodel

import (
	"context"
	"slices"
	"strings"
	"sync"

	"accounts/internal/user/models"
	"accounts/pkg/platform/sentinel"
)

// InMemoryStore backs the read model in tests and the memory deployment.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[models.Username]models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[models.Username]models.Record)}
}

func (s *InMemoryStore) Upsert(_ context.Context, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rec.Username] = rec
	return nil
}

func (s *InMemoryStore) Lookup(_ context.Context, username models.Username) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[username]
	if !ok {
		return models.Record{}, sentinel.ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Record, 0, len(s.rows))
	for _, rec := range s.rows {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b models.Record) int {
		return strings.Compare(string(a.Username), string(b.Username))
	})
	return out, nil
}
