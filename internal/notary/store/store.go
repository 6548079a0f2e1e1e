// Package store persists evidence records. Stores are pure I/O; the sealing
// state machine lives in the notary service, which relies on the conditional
// updates here to make every transition race-safe.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/notary"
)

// Store is the persistence port for the notarization client.
type Store interface {
	// Create inserts a pending evidence. Returns sentinel.ErrConflict when an
	// evidence already exists for the same daily root or ledger entry.
	Create(ctx context.Context, evidence notary.Evidence) error

	// GetByID returns one evidence. Returns sentinel.ErrNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (*notary.Evidence, error)

	// ClaimProcessing flips pending -> processing, but only if the row is
	// still pending. Returns sentinel.ErrConflict when it is not; that means
	// another worker holds the claim or the evidence is terminal.
	ClaimProcessing(ctx context.Context, id uuid.UUID, now time.Time) error

	// MarkCompleted flips processing -> completed and records the proof.
	MarkCompleted(ctx context.Context, id uuid.UUID, sealedAt time.Time, token, serialNumber string, now time.Time) error

	// ScheduleRetry flips processing -> pending with the next attempt time.
	ScheduleRetry(ctx context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time, errMessage string, now time.Time) error

	// MarkFailed flips processing -> failed. Terminal until an operator
	// requeues.
	MarkFailed(ctx context.Context, id uuid.UUID, errMessage string, now time.Time) error

	// Requeue flips failed -> pending and resets the retry state. Returns
	// sentinel.ErrConflict when the evidence is not failed.
	Requeue(ctx context.Context, id uuid.UUID, now time.Time) error

	// ListDue returns pending evidence whose next retry is unset or at or
	// before now, in creation order, up to limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]notary.Evidence, error)

	// EnsureGroup returns the company's group for the period, creating it on
	// first use.
	EnsureGroup(ctx context.Context, companyID uuid.UUID, period string, now time.Time) (notary.Group, error)

	// ListByGroup returns a group's evidence in creation order.
	ListByGroup(ctx context.Context, groupID uuid.UUID) ([]notary.Evidence, error)
}
