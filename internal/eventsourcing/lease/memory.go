package lease

import (
	"context"
	"sync"
	"time"
)

// Memory grants leases within one process.
type Memory struct {
	mu     sync.Mutex
	held   map[string]memoryGrant
	tokens map[string]int64
	now    func() time.Time
}

type memoryGrant struct {
	token     int64
	expiresAt time.Time
}

// MemoryOption configures a Memory leaser.
type MemoryOption func(*Memory)

// WithClock overrides the expiry clock.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		held:   make(map[string]memoryGrant),
		tokens: make(map[string]int64),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if g, ok := m.held[key]; ok && now.Before(g.expiresAt) {
		return nil, ErrHeld
	}
	m.tokens[key]++
	token := m.tokens[key]
	m.held[key] = memoryGrant{token: token, expiresAt: now.Add(ttl)}
	return &memoryLease{owner: m, key: key, token: token, ttl: ttl}, nil
}

// Holder returns the token currently holding key, if any.
func (m *Memory) Holder(key string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.held[key]
	if !ok || !m.now().Before(g.expiresAt) {
		return 0, false
	}
	return g.token, true
}

type memoryLease struct {
	owner *Memory
	key   string
	token int64
	ttl   time.Duration
}

func (l *memoryLease) Key() string  { return l.key }
func (l *memoryLease) Token() int64 { return l.token }

func (l *memoryLease) Renew(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := l.owner
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	g, ok := m.held[l.key]
	if !ok || g.token != l.token || !now.Before(g.expiresAt) {
		return ErrLost
	}
	m.held[l.key] = memoryGrant{token: l.token, expiresAt: now.Add(l.ttl)}
	return nil
}

func (l *memoryLease) Release(context.Context) error {
	m := l.owner
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.held[l.key]; ok && g.token == l.token {
		delete(m.held, l.key)
	}
	return nil
}
