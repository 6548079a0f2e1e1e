package chain

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies clock events. The set is closed: hashing depends on the
// serialized value, so new types are additive only.
type EventType string

const (
	EventEntry      EventType = "entry"
	EventExit       EventType = "exit"
	EventBreakStart EventType = "break_start"
	EventBreakEnd   EventType = "break_end"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventEntry, EventExit, EventBreakStart, EventBreakEnd:
		return true
	}
	return false
}

// Toggle returns the event type that should follow t in a working day.
func (t EventType) Toggle() EventType {
	if t == EventEntry {
		return EventExit
	}
	return EventEntry
}

// Payload carries the optional context recorded alongside a clock event. The
// payload is stored, not hashed: the chain preimage covers subject, type,
// timestamp and the previous link only.
type Payload struct {
	OverrideReason string `json:"override_reason,omitempty"`
	OfflineSync    bool   `json:"offline_sync,omitempty"`
}

// IsZero reports whether the payload carries nothing worth persisting.
func (p Payload) IsZero() bool {
	return p == Payload{}
}

// ChainedEvent is one immutable link of a subject's clock chain.
// PreviousHash is empty for the first link (the GENESIS sentinel is applied
// at hashing time, not stored).
type ChainedEvent struct {
	ID           uuid.UUID
	CompanyID    uuid.UUID
	SubjectID    string
	EventType    EventType
	Source       string
	Timestamp    time.Time
	Payload      Payload
	EventHash    string
	PreviousHash string
	OfflineUUID  string
	CreatedAt    time.Time
}
