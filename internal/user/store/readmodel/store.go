// Package readmodel keeps the denormalized user rows the projection maintains.
package readmodel

import (
	"context"

	"accounts/internal/user/models"
)

// Store is the user read model. Upsert replaces the full row so replaying an
// event leaves the same result.
type Store interface {
	Upsert(ctx context.Context, rec models.Record) error
	// Lookup returns sentinel.ErrNotFound when the user has no row.
	Lookup(ctx context.Context, username models.Username) (models.Record, error)
	// ListAll returns every row ordered by username.
	ListAll(ctx context.Context) ([]models.Record, error)
}
