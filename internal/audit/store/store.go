// Package store buffers audit events in the transactional outbox.
package store

import (
	"context"

	"github.com/google/uuid"

	"chronoseal/internal/audit"
)

// Store is the outbox persistence port.
type Store interface {
	// Append buffers one event for publication.
	Append(ctx context.Context, event audit.Event) error

	// ListUnpublished returns buffered rows in creation order, up to limit.
	ListUnpublished(ctx context.Context, limit int) ([]audit.OutboxRow, error)

	// MarkPublished stamps the rows as relayed so they are not re-read.
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}
