package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"accounts/internal/eventsourcing/journal"
	"accounts/pkg/platform/sentinel"
	"accounts/pkg/platform/tx"
)

// Postgres stores snapshots in the snapshots table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const (
	upsertSnapshotSQL = `
		INSERT INTO snapshots (entity_type, entity_id, sequence_nr, payload, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (entity_type, entity_id, sequence_nr)
		DO UPDATE SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`

	pruneSnapshotsSQL = `
		DELETE FROM snapshots
		WHERE entity_type = $1 AND entity_id = $2 AND sequence_nr < (
			SELECT MIN(sequence_nr) FROM (
				SELECT sequence_nr FROM snapshots
				WHERE entity_type = $1 AND entity_id = $2
				ORDER BY sequence_nr DESC
				LIMIT $3
			) newest
		)`

	latestSnapshotSQL = `
		SELECT sequence_nr, payload, created_at
		FROM snapshots
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY sequence_nr DESC
		LIMIT 1`

	listSnapshotsSQL = `
		SELECT sequence_nr, payload, created_at
		FROM snapshots
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY sequence_nr ASC`
)

func (p *Postgres) Save(ctx context.Context, snap Snapshot, keep int) error {
	pid := snap.PersistenceID
	return tx.Run(ctx, p.db, func(ctx context.Context, sqlTx *sql.Tx) error {
		if _, err := sqlTx.ExecContext(ctx, upsertSnapshotSQL, pid.EntityType, pid.EntityID, snap.SequenceNr, snap.Payload); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		if keep <= 0 {
			return nil
		}
		if _, err := sqlTx.ExecContext(ctx, pruneSnapshotsSQL, pid.EntityType, pid.EntityID, keep); err != nil {
			return fmt.Errorf("prune snapshots: %w", err)
		}
		return nil
	})
}

func (p *Postgres) Latest(ctx context.Context, pid journal.PersistenceID) (Snapshot, error) {
	snap := Snapshot{PersistenceID: pid}
	err := p.db.QueryRowContext(ctx, latestSnapshotSQL, pid.EntityType, pid.EntityID).
		Scan(&snap.SequenceNr, &snap.Payload, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, sentinel.ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("load latest snapshot: %w", err)
	}
	return snap, nil
}

// List returns every retained snapshot of pid, oldest first.
func (p *Postgres) List(ctx context.Context, pid journal.PersistenceID) ([]Snapshot, error) {
	rows, err := p.db.QueryContext(ctx, listSnapshotsSQL, pid.EntityType, pid.EntityID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap := Snapshot{PersistenceID: pid}
		if err := rows.Scan(&snap.SequenceNr, &snap.Payload, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
