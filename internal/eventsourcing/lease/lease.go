// Package lease grants time-bounded exclusive ownership of an entity.
//
// The router holds a lease for every live instance, so at most one process
// writes a given entity at a time. Every grant carries a fencing token that
// increases monotonically per key; a writer that lost its lease can be told
// apart from the current owner by comparing tokens.
package lease

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrHeld means another owner currently holds the key.
	ErrHeld = errors.New("lease: held by another owner")
	// ErrLost means the lease expired or was taken over before renewal.
	ErrLost = errors.New("lease: lost")
)

// Leaser grants leases.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is one granted ownership period.
type Lease interface {
	Key() string
	Token() int64
	// Renew extends the lease by its original TTL, or returns ErrLost.
	Renew(ctx context.Context) error
	// Release gives the key up. Releasing a lost lease is a no-op.
	Release(ctx context.Context) error
}
