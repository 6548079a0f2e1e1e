package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"chronoseal/internal/notary"
	"chronoseal/pkg/sentinel"
)

// PostgresStore persists evidence in PostgreSQL. Every state transition is a
// conditional UPDATE keyed on the current status, so concurrent workers race
// safely: the loser's update matches zero rows and surfaces ErrConflict.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

func (s *PostgresStore) Create(ctx context.Context, evidence notary.Evidence) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidences (
			id, company_id, group_id, evidence_type, status,
			daily_root_id, ledger_entry_id, artifact_path, artifact_sha256,
			retry_count, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12)
	`,
		evidence.ID,
		evidence.CompanyID,
		evidence.GroupID,
		string(evidence.Type),
		string(evidence.Status),
		evidence.DailyRootID,
		evidence.LedgerEntryID,
		evidence.ArtifactPath,
		evidence.ArtifactSHA256,
		evidence.RetryCount,
		evidence.CreatedAt,
		evidence.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("duplicate evidence: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*notary.Evidence, error) {
	evidence, err := scanEvidence(s.db.QueryRowContext(ctx, selectEvidence+`
		WHERE id = $1
	`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get evidence: %w", err)
	}
	return evidence, nil
}

func (s *PostgresStore) ClaimProcessing(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evidences
		SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, now)
	if err != nil {
		return fmt.Errorf("claim processing: %w", err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id uuid.UUID, sealedAt time.Time, token, serialNumber string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evidences
		SET status = 'completed', sealed_at = $2, tsp_token = $3,
		    serial_number = NULLIF($4, ''), error_message = NULL,
		    next_retry_at = NULL, updated_at = $5
		WHERE id = $1 AND status = 'processing'
	`, id, sealedAt, token, serialNumber, now)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time, errMessage string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evidences
		SET status = 'pending', retry_count = $2, next_retry_at = $3,
		    error_message = $4, updated_at = $5
		WHERE id = $1 AND status = 'processing'
	`, id, retryCount, nextRetryAt, errMessage, now)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, errMessage string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evidences
		SET status = 'failed', error_message = $2, next_retry_at = NULL, updated_at = $3
		WHERE id = $1 AND status = 'processing'
	`, id, errMessage, now)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evidences
		SET status = 'pending', retry_count = 0, next_retry_at = NULL,
		    error_message = NULL, updated_at = $2
		WHERE id = $1 AND status = 'failed'
	`, id, now)
	if err != nil {
		return fmt.Errorf("requeue evidence: %w", err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]notary.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, selectEvidence+`
		WHERE status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due evidence: %w", err)
	}
	defer rows.Close()
	return collectEvidence(rows)
}

func (s *PostgresStore) EnsureGroup(ctx context.Context, companyID uuid.UUID, period string, now time.Time) (notary.Group, error) {
	group := notary.Group{
		ID:        uuid.New(),
		CompanyID: companyID,
		Period:    period,
		CreatedAt: now,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO evidence_groups (id, company_id, period, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (company_id, period) DO UPDATE SET period = EXCLUDED.period
		RETURNING id, created_at
	`, group.ID, group.CompanyID, group.Period, group.CreatedAt).Scan(&group.ID, &group.CreatedAt)
	if err != nil {
		return notary.Group{}, fmt.Errorf("ensure evidence group: %w", err)
	}
	return group, nil
}

func (s *PostgresStore) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]notary.Evidence, error) {
	rows, err := s.db.QueryContext(ctx, selectEvidence+`
		WHERE group_id = $1
		ORDER BY created_at ASC, id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group evidence: %w", err)
	}
	defer rows.Close()
	return collectEvidence(rows)
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("evidence %s not in expected status: %w", id, sentinel.ErrConflict)
	}
	return nil
}

const selectEvidence = `
	SELECT id, company_id, group_id, evidence_type, status,
	       daily_root_id, ledger_entry_id, COALESCE(artifact_path, ''),
	       COALESCE(artifact_sha256, ''), retry_count, next_retry_at,
	       COALESCE(error_message, ''), sealed_at, COALESCE(tsp_token, ''),
	       COALESCE(serial_number, ''), created_at, updated_at
	FROM evidences
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvidence(row rowScanner) (*notary.Evidence, error) {
	var evidence notary.Evidence
	var evidenceType, status string
	err := row.Scan(
		&evidence.ID,
		&evidence.CompanyID,
		&evidence.GroupID,
		&evidenceType,
		&status,
		&evidence.DailyRootID,
		&evidence.LedgerEntryID,
		&evidence.ArtifactPath,
		&evidence.ArtifactSHA256,
		&evidence.RetryCount,
		&evidence.NextRetryAt,
		&evidence.ErrorMessage,
		&evidence.SealedAt,
		&evidence.TSPToken,
		&evidence.SerialNumber,
		&evidence.CreatedAt,
		&evidence.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	evidence.Type = notary.EvidenceType(evidenceType)
	evidence.Status = notary.Status(status)
	return &evidence, nil
}

func collectEvidence(rows *sql.Rows) ([]notary.Evidence, error) {
	var out []notary.Evidence
	for rows.Next() {
		evidence, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, *evidence)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}
	return out, nil
}
