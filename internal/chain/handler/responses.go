package handler

import (
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/chain"
)

// EventResponse is the HTTP shape of one chained clock event.
type EventResponse struct {
	ID           uuid.UUID     `json:"id"`
	CompanyID    uuid.UUID     `json:"company_id"`
	SubjectID    string        `json:"subject_id"`
	EventType    string        `json:"event_type"`
	Source       string        `json:"source,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Payload      chain.Payload `json:"payload,omitzero"`
	EventHash    string        `json:"event_hash"`
	PreviousHash string        `json:"previous_hash,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// AppendEventResponse is the HTTP response for POST /clock/events.
type AppendEventResponse struct {
	Event    EventResponse `json:"event"`
	Replayed bool          `json:"replayed"`
}

// ListEventsResponse is the HTTP response for GET /clock/subjects/{subject_id}/events.
type ListEventsResponse struct {
	Events []EventResponse `json:"events"`
}

func fromEvent(event chain.ChainedEvent) EventResponse {
	return EventResponse{
		ID:           event.ID,
		CompanyID:    event.CompanyID,
		SubjectID:    event.SubjectID,
		EventType:    string(event.EventType),
		Source:       event.Source,
		Timestamp:    event.Timestamp,
		Payload:      event.Payload,
		EventHash:    event.EventHash,
		PreviousHash: event.PreviousHash,
		CreatedAt:    event.CreatedAt,
	}
}
