// Package store persists evidence ledger entries. Stores are pure I/O; the
// chaining rules and hashing live in the ledger service.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/ledger"
)

// Store is the persistence port for the evidence ledger.
type Store interface {
	// Append inserts the entry and advances the thread's tail pointer in one
	// atomic step, but only if the tail still equals expectedTail ("" for a
	// thread with no entries). Returns sentinel.ErrConflict when the tail
	// moved.
	Append(ctx context.Context, entry ledger.Entry, expectedTail string) error

	// Tail returns the thread's current tail content hash, or "" if the
	// thread has no entries.
	Tail(ctx context.Context, threadID uuid.UUID) (string, error)

	// GetByID returns one entry. Returns sentinel.ErrNotFound when missing.
	GetByID(ctx context.Context, id uuid.UUID) (*ledger.Entry, error)

	// ListByThread returns a thread's entries ordered by creation.
	ListByThread(ctx context.Context, threadID uuid.UUID) ([]ledger.Entry, error)

	// ListUnsealed returns entries without a QTSP token in creation order, up
	// to limit. Consumed by the batch certification job.
	ListUnsealed(ctx context.Context, limit int) ([]ledger.Entry, error)

	// AttachSeal records the QTSP timestamp and token returned for an entry.
	// Returns sentinel.ErrNotFound when the entry is missing.
	AttachSeal(ctx context.Context, id uuid.UUID, sealedAt time.Time, token string) error
}
