// Package audit captures the notarization audit trail. Events are written to
// a transactional outbox and relayed to Kafka; the broker is the durable
// audit record, the outbox only buffers it.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action enumerates the auditable notarization and integrity actions.
type Action string

const (
	ActionEvidenceSealed     Action = "evidence_sealed"
	ActionRetryScheduled     Action = "retry_scheduled"
	ActionPermanentFailure   Action = "permanent_failure"
	ActionEvidenceRequeued   Action = "evidence_requeued"
	ActionIntegrityViolation Action = "integrity_violation"
	ActionRootBuilt          Action = "root_built"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Action    Action
	Timestamp time.Time
	CompanyID uuid.UUID
	// Subject identifies the affected entity (evidence ID, thread ID, root
	// ID) as a string so one trail covers every chain.
	Subject   string
	Detail    string
	RequestID string
	ActorID   string
}

// OutboxRow is one buffered event awaiting publication.
type OutboxRow struct {
	ID        uuid.UUID
	Key       string
	Payload   []byte
	CreatedAt time.Time
}
