package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"accounts/pkg/platform/sentinel"
)

// PostgresCheckpoints stores checkpoints in projection_offsets.
type PostgresCheckpoints struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresCheckpoints(db *sql.DB) *PostgresCheckpoints {
	return &PostgresCheckpoints{db: db, now: time.Now}
}

const (
	loadCheckpointSQL = `SELECT current_offset, updated_at FROM projection_offsets WHERE projection_id = $1`

	// A stale runner must not move the offset backwards.
	saveCheckpointSQL = `
		INSERT INTO projection_offsets (projection_id, current_offset, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (projection_id) DO UPDATE
		SET current_offset = EXCLUDED.current_offset, updated_at = EXCLUDED.updated_at
		WHERE projection_offsets.current_offset <= EXCLUDED.current_offset`
)

func (p *PostgresCheckpoints) Load(ctx context.Context, projectionID string) (Checkpoint, error) {
	cp := Checkpoint{ProjectionID: projectionID}
	err := p.db.QueryRowContext(ctx, loadCheckpointSQL, projectionID).Scan(&cp.Offset, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Checkpoint{}, sentinel.ErrNotFound
		}
		return Checkpoint{}, fmt.Errorf("load checkpoint %s: %w", projectionID, err)
	}
	return cp, nil
}

func (p *PostgresCheckpoints) Save(ctx context.Context, cp Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = p.now()
	}
	if _, err := p.db.ExecContext(ctx, saveCheckpointSQL, cp.ProjectionID, cp.Offset, cp.UpdatedAt); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.ProjectionID, err)
	}
	return nil
}
