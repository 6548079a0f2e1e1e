package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"chronoseal/internal/ledger"
	"chronoseal/pkg/sentinel"
)

// PostgresStore persists ledger entries in PostgreSQL. The per-thread tail
// pointer lives in ledger_tails and is advanced by compare-and-swap inside
// the same transaction as the entry insert.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func (s *PostgresStore) Append(ctx context.Context, entry ledger.Entry, expectedTail string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if expectedTail == "" {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_tails (thread_id, last_hash, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (thread_id) DO NOTHING
		`, entry.ThreadID, entry.ContentHash, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert ledger tail: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sentinel.ErrConflict
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE ledger_tails
			SET last_hash = $2, updated_at = $3
			WHERE thread_id = $1 AND last_hash = $4
		`, entry.ThreadID, entry.ContentHash, entry.CreatedAt, expectedTail)
		if err != nil {
			return fmt.Errorf("advance ledger tail: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sentinel.ErrConflict
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (
			id, company_id, thread_id, recipient_id, event_type, event_timestamp,
			message_id, channel, receipt, response, signature_ref, method,
			content_hash, previous_hash, created_at
		)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6,
		        NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
		        NULLIF($11, ''), NULLIF($12, ''), $13, NULLIF($14, ''), $15)
	`,
		entry.ID,
		entry.CompanyID,
		entry.ThreadID,
		entry.RecipientID,
		string(entry.EventType),
		entry.EventTimestamp,
		entry.EventData.MessageID,
		entry.EventData.Channel,
		entry.EventData.Receipt,
		entry.EventData.Response,
		entry.EventData.SignatureRef,
		entry.EventData.Method,
		entry.ContentHash,
		entry.PreviousHash,
		entry.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("duplicate ledger entry: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Tail(ctx context.Context, threadID uuid.UUID) (string, error) {
	var tail string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_hash FROM ledger_tails WHERE thread_id = $1`, threadID,
	).Scan(&tail)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("get ledger tail: %w", err)
	}
	return tail, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*ledger.Entry, error) {
	entry, err := scanEntry(s.db.QueryRowContext(ctx, selectEntry+`
		WHERE id = $1
	`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListByThread(ctx context.Context, threadID uuid.UUID) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntry+`
		WHERE thread_id = $1
		ORDER BY created_at ASC, id ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list by thread: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *PostgresStore) ListUnsealed(ctx context.Context, limit int) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntry+`
		WHERE qtsp_token IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unsealed: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *PostgresStore) AttachSeal(ctx context.Context, id uuid.UUID, sealedAt time.Time, token string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET qtsp_timestamp = $2, qtsp_token = $3
		WHERE id = $1
	`, id, sealedAt, token)
	if err != nil {
		return fmt.Errorf("attach seal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const selectEntry = `
	SELECT id, company_id, thread_id, COALESCE(recipient_id, ''), event_type,
	       event_timestamp, COALESCE(message_id, ''), COALESCE(channel, ''),
	       COALESCE(receipt, ''), COALESCE(response, ''),
	       COALESCE(signature_ref, ''), COALESCE(method, ''),
	       content_hash, COALESCE(previous_hash, ''),
	       qtsp_timestamp, COALESCE(qtsp_token, ''), created_at
	FROM ledger_entries
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var entry ledger.Entry
	var eventType string
	err := row.Scan(
		&entry.ID,
		&entry.CompanyID,
		&entry.ThreadID,
		&entry.RecipientID,
		&eventType,
		&entry.EventTimestamp,
		&entry.EventData.MessageID,
		&entry.EventData.Channel,
		&entry.EventData.Receipt,
		&entry.EventData.Response,
		&entry.EventData.SignatureRef,
		&entry.EventData.Method,
		&entry.ContentHash,
		&entry.PreviousHash,
		&entry.QTSPTimestamp,
		&entry.QTSPToken,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.EventType = ledger.EventType(eventType)
	return &entry, nil
}

func collectEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return out, nil
}
