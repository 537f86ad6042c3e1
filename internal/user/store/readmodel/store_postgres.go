package readmodel

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"accounts/internal/user/models"
	"accounts/pkg/platform/sentinel"
)

// querier is the subset of pgxpool.Pool and pgx.Tx the store needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps the read model in the users table.
type PostgresStore struct {
	db querier
}

func NewPostgresStore(db querier) *PostgresStore {
	return &PostgresStore{db: db}
}

type userRow struct {
	Username  string `db:"username"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Email     string `db:"email"`
}

func (r userRow) toRecord() models.Record {
	return models.Record{
		Username:  models.Username(r.Username),
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Email:     models.Email(r.Email),
	}
}

func (s *PostgresStore) Upsert(ctx context.Context, rec models.Record) error {
	query := `
		INSERT INTO users (username, first_name, last_name, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email
	`
	_, err := s.db.Exec(ctx, query, string(rec.Username), rec.FirstName, rec.LastName, string(rec.Email))
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", rec.Username, err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, username models.Username) (models.Record, error) {
	var row userRow
	err := s.db.QueryRow(ctx,
		`SELECT username, first_name, last_name, email FROM users WHERE username = $1`,
		string(username),
	).Scan(&row.Username, &row.FirstName, &row.LastName, &row.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Record{}, sentinel.ErrNotFound
		}
		return models.Record{}, fmt.Errorf("lookup user %s: %w", username, err)
	}
	return row.toRecord(), nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]models.Record, error) {
	rows, err := s.db.Query(ctx, `SELECT username, first_name, last_name, email FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[userRow])
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	out := make([]models.Record, 0, len(collected))
	for _, row := range collected {
		out = append(out, row.toRecord())
	}
	return out, nil
}
