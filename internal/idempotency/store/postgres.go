package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"chronoseal/internal/idempotency"
	"chronoseal/pkg/sentinel"
)

// PostgresStore persists claims in PostgreSQL. Claiming rides the unique
// constraint on (idempotency_key, endpoint): the insert either wins or
// matches zero rows, there is no read-then-write window.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Claim(ctx context.Context, record idempotency.Record) (bool, error) {
	// An expired row is taken over in place; a live row blocks the claim via
	// the WHERE on the conflict update.
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_records (
			idempotency_key, endpoint, payload_hash,
			response_status, response_body, created_at, expires_at
		)
		VALUES ($1, $2, $3, NULL, NULL, $4, $5)
		ON CONFLICT (idempotency_key, endpoint) DO UPDATE SET
			payload_hash = EXCLUDED.payload_hash,
			response_status = NULL,
			response_body = NULL,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at <= EXCLUDED.created_at
		RETURNING created_at
	`,
		record.Key, record.Endpoint, record.PayloadHash,
		record.CreatedAt, record.ExpiresAt,
	).Scan(&createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("claim idempotency record: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) Get(ctx context.Context, key, endpoint string) (*idempotency.Record, error) {
	var record idempotency.Record
	var status sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT idempotency_key, endpoint, payload_hash,
		       response_status, COALESCE(response_body, ''), created_at, expires_at
		FROM idempotency_records
		WHERE idempotency_key = $1 AND endpoint = $2
	`, key, endpoint).Scan(
		&record.Key, &record.Endpoint, &record.PayloadHash,
		&status, &record.ResponseBody, &record.CreatedAt, &record.ExpiresAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if status.Valid {
		record.ResponseStatus = int(status.Int64)
	}
	return &record, nil
}

func (s *PostgresStore) Complete(ctx context.Context, key, endpoint string, status int, body []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_records
		SET response_status = $3, response_body = $4
		WHERE idempotency_key = $1 AND endpoint = $2
	`, key, endpoint, status, body)
	if err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_records
		WHERE idempotency_key = $1 AND endpoint = $2
	`, key, endpoint)
	if err != nil {
		return fmt.Errorf("release idempotency record: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_records WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
