package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"accounts/pkg/platform/tx"
)

const uniqueViolation = "23505"

// Postgres stores the journal in the event_journal table.
//
// The ordering column is a BIGSERIAL, so values are allocated at insert time and
// can commit out of order. ReadTaggedFrom holds back two kinds of rows so a
// lower offset whose transaction is still open is not skipped:
//   - rows written by a transaction at or after the oldest in-flight one
//     (xact_id >= pg_snapshot_xmin), however long that transaction runs;
//   - rows stamped (with clock_timestamp, not the transaction start) less than
//     the consistency delay ago.
type Postgres struct {
	db               *sql.DB
	consistencyDelay time.Duration
}

// PostgresOption configures a Postgres journal.
type PostgresOption func(*Postgres)

// WithConsistencyDelay sets how old a row must be before the tagged stream returns it.
func WithConsistencyDelay(d time.Duration) PostgresOption {
	return func(p *Postgres) {
		if d >= 0 {
			p.consistencyDelay = d
		}
	}
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db, consistencyDelay: time.Second}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

const (
	highestSeqSQL = `SELECT COALESCE(MAX(sequence_nr), 0) FROM event_journal WHERE entity_type = $1 AND entity_id = $2`

	insertEventSQL = `
		INSERT INTO event_journal (entity_type, entity_id, sequence_nr, manifest, payload, tags, written_at, xact_id)
		VALUES ($1, $2, $3, $4, $5, $6, clock_timestamp(), pg_current_xact_id())
		RETURNING ordering, written_at`

	readFromSQL = `
		SELECT ordering, sequence_nr, manifest, payload, tags, written_at
		FROM event_journal
		WHERE entity_type = $1 AND entity_id = $2 AND sequence_nr > $3
		ORDER BY sequence_nr ASC`

	readTaggedSQL = `
		SELECT ordering, entity_type, entity_id, sequence_nr, manifest, payload, tags, written_at
		FROM event_journal
		WHERE tags @> $1 AND ordering > $2
		  AND xact_id < pg_snapshot_xmin(pg_current_snapshot())
		  AND written_at <= clock_timestamp() - make_interval(secs => $3)
		ORDER BY ordering ASC
		LIMIT $4`
)

func (p *Postgres) Append(ctx context.Context, pid PersistenceID, expectedSeq int64, events ...Event) ([]Record, error) {
	if len(events) == 0 {
		return nil, nil
	}

	var out []Record
	err := tx.Run(ctx, p.db, func(ctx context.Context, sqlTx *sql.Tx) error {
		var current int64
		if err := sqlTx.QueryRowContext(ctx, highestSeqSQL, pid.EntityType, pid.EntityID).Scan(&current); err != nil {
			return fmt.Errorf("read stream tail: %w", err)
		}
		if current != expectedSeq {
			return ErrConcurrencyConflict
		}

		out = make([]Record, 0, len(events))
		for i, evt := range events {
			rec := Record{
				PersistenceID: pid,
				SequenceNr:    expectedSeq + int64(i) + 1,
				Manifest:      evt.Manifest,
				Payload:       evt.Payload,
				Tags:          evt.Tags,
			}
			tags := evt.Tags
			if tags == nil {
				tags = []string{}
			}
			err := sqlTx.QueryRowContext(ctx, insertEventSQL,
				pid.EntityType, pid.EntityID, rec.SequenceNr, evt.Manifest, evt.Payload, pq.Array(tags),
			).Scan(&rec.Offset, &rec.Timestamp)
			if err != nil {
				if isUniqueViolation(err) {
					return ErrConcurrencyConflict
				}
				return fmt.Errorf("insert event %d: %w", rec.SequenceNr, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) ReadFrom(ctx context.Context, pid PersistenceID, afterSeq int64) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, readFromSQL, pid.EntityType, pid.EntityID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec := Record{PersistenceID: pid}
		var tags []string
		if err := rows.Scan(&rec.Offset, &rec.SequenceNr, &rec.Manifest, &rec.Payload, pq.Array(&tags), &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.Tags = tags
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func (p *Postgres) ReadTaggedFrom(ctx context.Context, tag string, afterOffset int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, readTaggedSQL,
		pq.Array([]string{tag}), afterOffset, p.consistencyDelay.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("read tagged events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var tags []string
		if err := rows.Scan(&rec.Offset, &rec.EntityType, &rec.EntityID, &rec.SequenceNr,
			&rec.Manifest, &rec.Payload, pq.Array(&tags), &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan tagged event: %w", err)
		}
		rec.Tags = tags
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tagged events: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
