// Package idempotency deduplicates externally-triggered mutating operations.
// The guard claims (key, endpoint) atomically before the handler runs, so two
// concurrent identical requests execute the side effect at most once.
package idempotency

import "time"

// Record is one claim. Created at most once per (key, endpoint); the response
// fields are filled in exactly once when the first execution finishes, and
// the row is read-only afterwards until it expires.
type Record struct {
	Key         string
	Endpoint    string
	PayloadHash string
	// ResponseStatus is 0 while the first execution is still in flight.
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Completed reports whether the first execution has stored its response.
func (r Record) Completed() bool {
	return r.ResponseStatus != 0
}
