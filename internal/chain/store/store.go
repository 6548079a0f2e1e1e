// Package store persists chain events. Stores are pure I/O; chain ordering
// rules and hashing live in the chain service.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/chain"
)

// Store is the persistence port for the hash chain recorder.
type Store interface {
	// Append inserts the event and advances the subject's tail pointer in one
	// atomic step, but only if the tail still equals expectedTail ("" for a
	// subject with no events). Returns sentinel.ErrConflict when the tail
	// moved, sentinel.ErrConflict wrapped for duplicate offline UUIDs.
	Append(ctx context.Context, event chain.ChainedEvent, expectedTail string) error

	// Tail returns the subject's current tail hash, or "" if the chain is empty.
	Tail(ctx context.Context, subjectID string) (string, error)

	// LastEventSince returns the subject's most recent event at or after
	// since, or nil. Used for the entry/exit toggle within a day.
	LastEventSince(ctx context.Context, subjectID string, since time.Time) (*chain.ChainedEvent, error)

	// FindByOfflineUUID returns the event previously synced under the given
	// offline UUID, or nil.
	FindByOfflineUUID(ctx context.Context, offlineUUID string) (*chain.ChainedEvent, error)

	// ListBySubject returns a subject's events ordered by creation.
	ListBySubject(ctx context.Context, subjectID string) ([]chain.ChainedEvent, error)

	// ListByCompanyDay returns all events for a company whose timestamp falls
	// in [dayStart, dayEnd], ordered by creation. Consumed by the root
	// builder and the integrity verifier.
	ListByCompanyDay(ctx context.Context, companyID uuid.UUID, dayStart, dayEnd time.Time) ([]chain.ChainedEvent, error)

	// CompaniesWithEvents returns the companies that recorded at least one
	// event in [dayStart, dayEnd]. Drives the periodic root build.
	CompaniesWithEvents(ctx context.Context, dayStart, dayEnd time.Time) ([]uuid.UUID, error)
}
