package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/merkle"
	"chronoseal/pkg/sentinel"
)

// PostgresStore persists daily roots in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, root merkle.DailyRoot) (merkle.DailyRoot, error) {
	if root.ID == uuid.Nil {
		root.ID = uuid.New()
	}
	root.Date = merkle.Day(root.Date)

	query := `
		INSERT INTO daily_roots (id, company_id, date, root_hash, event_count, built_at, provisional)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (company_id, date) DO UPDATE SET
			root_hash = EXCLUDED.root_hash,
			event_count = EXCLUDED.event_count,
			built_at = EXCLUDED.built_at,
			provisional = EXCLUDED.provisional
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		root.ID, root.CompanyID, root.Date, root.RootHash,
		root.EventCount, root.BuiltAt, root.Provisional,
	).Scan(&root.ID)
	if err != nil {
		return merkle.DailyRoot{}, fmt.Errorf("upsert daily root: %w", err)
	}
	return root, nil
}

func (s *PostgresStore) Get(ctx context.Context, companyID uuid.UUID, date time.Time) (*merkle.DailyRoot, error) {
	root, err := scanRoot(s.db.QueryRowContext(ctx, selectRoot+`
		WHERE company_id = $1 AND date = $2
	`, companyID, merkle.Day(date)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get daily root: %w", err)
	}
	return root, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*merkle.DailyRoot, error) {
	root, err := scanRoot(s.db.QueryRowContext(ctx, selectRoot+`
		WHERE id = $1
	`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get daily root by id: %w", err)
	}
	return root, nil
}

const selectRoot = `
	SELECT id, company_id, date, root_hash, event_count, built_at, provisional
	FROM daily_roots
`

func scanRoot(row *sql.Row) (*merkle.DailyRoot, error) {
	var root merkle.DailyRoot
	err := row.Scan(
		&root.ID, &root.CompanyID, &root.Date, &root.RootHash,
		&root.EventCount, &root.BuiltAt, &root.Provisional,
	)
	if err != nil {
		return nil, err
	}
	root.Date = root.Date.UTC()
	return &root, nil
}
