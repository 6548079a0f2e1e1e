package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"chronoseal/internal/chain"
	"chronoseal/pkg/sentinel"
)

// PostgresStore persists chain events in PostgreSQL. The tail pointer lives in
// chain_tails and is advanced by compare-and-swap inside the same transaction
// as the event insert, so a lost race surfaces as sentinel.ErrConflict rather
// than a forked chain.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func (s *PostgresStore) Append(ctx context.Context, event chain.ChainedEvent, expectedTail string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if expectedTail == "" {
		// First link: the tail row must not exist yet.
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chain_tails (subject_id, last_hash, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (subject_id) DO NOTHING
		`, event.SubjectID, event.EventHash, event.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert chain tail: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sentinel.ErrConflict
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE chain_tails
			SET last_hash = $2, updated_at = $3
			WHERE subject_id = $1 AND last_hash = $4
		`, event.SubjectID, event.EventHash, event.CreatedAt, expectedTail)
		if err != nil {
			return fmt.Errorf("advance chain tail: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sentinel.ErrConflict
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chain_events (
			id, company_id, subject_id, event_type, event_source, timestamp,
			override_reason, offline_sync, event_hash, previous_hash,
			offline_uuid, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12)
	`,
		event.ID,
		event.CompanyID,
		event.SubjectID,
		string(event.EventType),
		event.Source,
		event.Timestamp,
		event.Payload.OverrideReason,
		event.Payload.OfflineSync,
		event.EventHash,
		event.PreviousHash,
		event.OfflineUUID,
		event.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("duplicate chain event: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert chain event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Tail(ctx context.Context, subjectID string) (string, error) {
	var tail string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_hash FROM chain_tails WHERE subject_id = $1`, subjectID,
	).Scan(&tail)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("get chain tail: %w", err)
	}
	return tail, nil
}

func (s *PostgresStore) LastEventSince(ctx context.Context, subjectID string, since time.Time) (*chain.ChainedEvent, error) {
	row := s.db.QueryRowContext(ctx, selectEvent+`
		WHERE subject_id = $1 AND timestamp >= $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, subjectID, since)
	event, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("last event since: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) FindByOfflineUUID(ctx context.Context, offlineUUID string) (*chain.ChainedEvent, error) {
	row := s.db.QueryRowContext(ctx, selectEvent+`
		WHERE offline_uuid = $1
	`, offlineUUID)
	event, err := scanEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find by offline uuid: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID string) ([]chain.ChainedEvent, error) {
	rows, err := s.db.QueryContext(ctx, selectEvent+`
		WHERE subject_id = $1
		ORDER BY created_at ASC, id ASC
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list by subject: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *PostgresStore) ListByCompanyDay(ctx context.Context, companyID uuid.UUID, dayStart, dayEnd time.Time) ([]chain.ChainedEvent, error) {
	rows, err := s.db.QueryContext(ctx, selectEvent+`
		WHERE company_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY created_at ASC, id ASC
	`, companyID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list by company day: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (s *PostgresStore) CompaniesWithEvents(ctx context.Context, dayStart, dayEnd time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT company_id
		FROM chain_events
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY company_id
	`, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("companies with events: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var companyID uuid.UUID
		if err := rows.Scan(&companyID); err != nil {
			return nil, fmt.Errorf("scan company id: %w", err)
		}
		out = append(out, companyID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate company ids: %w", err)
	}
	return out, nil
}

const selectEvent = `
	SELECT id, company_id, subject_id, event_type, event_source, timestamp,
	       COALESCE(override_reason, ''), offline_sync, event_hash,
	       COALESCE(previous_hash, ''), COALESCE(offline_uuid, ''), created_at
	FROM chain_events
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*chain.ChainedEvent, error) {
	var event chain.ChainedEvent
	var eventType string
	err := row.Scan(
		&event.ID,
		&event.CompanyID,
		&event.SubjectID,
		&eventType,
		&event.Source,
		&event.Timestamp,
		&event.Payload.OverrideReason,
		&event.Payload.OfflineSync,
		&event.EventHash,
		&event.PreviousHash,
		&event.OfflineUUID,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	event.EventType = chain.EventType(eventType)
	return &event, nil
}

func collectEvents(rows *sql.Rows) ([]chain.ChainedEvent, error) {
	var out []chain.ChainedEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chain event: %w", err)
		}
		out = append(out, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chain events: %w", err)
	}
	return out, nil
}
