package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/audit"
)

// MemoryStore is the in-memory outbox used in tests and deployments without
// postgres.
type MemoryStore struct {
	mu        sync.Mutex
	rows      []audit.OutboxRow
	published map[uuid.UUID]bool
}

func NewMemory() *MemoryStore {
	return &MemoryStore{published: make(map[uuid.UUID]bool)}
}

func (s *MemoryStore) Append(_ context.Context, event audit.Event) error {
	payload, err := marshalEvent(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, audit.OutboxRow{
		ID:        uuid.New(),
		Key:       event.Subject,
		Payload:   payload,
		CreatedAt: event.Timestamp,
	})
	return nil
}

func (s *MemoryStore) ListUnpublished(_ context.Context, limit int) ([]audit.OutboxRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []audit.OutboxRow
	for _, row := range s.rows {
		if s.published[row.ID] {
			continue
		}
		out = append(out, row)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.published[id] = true
	}
	return nil
}

// eventPayload is the JSON structure published to Kafka.
type eventPayload struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
	CompanyID string `json:"company_id,omitempty"`
	Subject   string `json:"subject"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
}

func marshalEvent(event audit.Event) ([]byte, error) {
	payload := eventPayload{
		ID:        event.ID.String(),
		Action:    string(event.Action),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Subject:   event.Subject,
		Detail:    event.Detail,
		RequestID: event.RequestID,
		ActorID:   event.ActorID,
	}
	if event.CompanyID != uuid.Nil {
		payload.CompanyID = event.CompanyID.String()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal audit payload: %w", err)
	}
	return data, nil
}
