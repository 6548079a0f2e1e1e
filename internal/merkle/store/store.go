// Package store persists daily roots.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/merkle"
)

// Store is the persistence port for daily roots.
type Store interface {
	// Upsert inserts or replaces the root for (company_id, date).
	Upsert(ctx context.Context, root merkle.DailyRoot) (merkle.DailyRoot, error)

	// Get returns the stored root, or sentinel.ErrNotFound.
	Get(ctx context.Context, companyID uuid.UUID, date time.Time) (*merkle.DailyRoot, error)

	// GetByID returns the stored root by primary key, or sentinel.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*merkle.DailyRoot, error)
}
