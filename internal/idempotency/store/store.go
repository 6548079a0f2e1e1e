// Package store persists idempotency claims. The Claim operation is the
// whole point: it must be a single atomic insert-or-fail so concurrent
// requests cannot both win.
package store

import (
	"context"
	"time"

	"chronoseal/internal/idempotency"
)

// Store is the persistence port for the idempotency guard.
type Store interface {
	// Claim inserts the record if no live claim exists for (key, endpoint).
	// An expired claim is replaced. Returns true when this caller won the
	// claim, false when a live record already exists.
	Claim(ctx context.Context, record idempotency.Record) (bool, error)

	// Get returns the live record for (key, endpoint), or sentinel.ErrNotFound.
	Get(ctx context.Context, key, endpoint string) (*idempotency.Record, error)

	// Complete stores the first execution's response on the claim.
	Complete(ctx context.Context, key, endpoint string, status int, body []byte) error

	// Release drops an in-flight claim whose execution failed, so the client
	// can retry with the same key.
	Release(ctx context.Context, key, endpoint string) error

	// DeleteExpired removes records past their TTL and reports how many.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
