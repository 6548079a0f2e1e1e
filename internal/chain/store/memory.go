package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/chain"
	"chronoseal/pkg/sentinel"
)

// MemoryStore is the in-memory chain store used in tests and single-node
// deployments without postgres.
type MemoryStore struct {
	mu          sync.Mutex
	events      map[string][]chain.ChainedEvent // subject -> ordered events
	tails       map[string]string               // subject -> tail hash
	offlineUUID map[string]chain.ChainedEvent
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		events:      make(map[string][]chain.ChainedEvent),
		tails:       make(map[string]string),
		offlineUUID: make(map[string]chain.ChainedEvent),
	}
}

func (s *MemoryStore) Append(_ context.Context, event chain.ChainedEvent, expectedTail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.OfflineUUID != "" {
		if _, exists := s.offlineUUID[event.OfflineUUID]; exists {
			return sentinel.ErrConflict
		}
	}
	if s.tails[event.SubjectID] != expectedTail {
		return sentinel.ErrConflict
	}

	s.events[event.SubjectID] = append(s.events[event.SubjectID], event)
	s.tails[event.SubjectID] = event.EventHash
	if event.OfflineUUID != "" {
		s.offlineUUID[event.OfflineUUID] = event
	}
	return nil
}

func (s *MemoryStore) Tail(_ context.Context, subjectID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tails[subjectID], nil
}

func (s *MemoryStore) LastEventSince(_ context.Context, subjectID string, since time.Time) (*chain.ChainedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[subjectID]
	for i := len(events) - 1; i >= 0; i-- {
		if !events[i].Timestamp.Before(since) {
			event := events[i]
			return &event, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindByOfflineUUID(_ context.Context, offlineUUID string) (*chain.ChainedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event, ok := s.offlineUUID[offlineUUID]; ok {
		return &event, nil
	}
	return nil, nil
}

func (s *MemoryStore) ListBySubject(_ context.Context, subjectID string) ([]chain.ChainedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[subjectID]
	out := make([]chain.ChainedEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *MemoryStore) ListByCompanyDay(_ context.Context, companyID uuid.UUID, dayStart, dayEnd time.Time) ([]chain.ChainedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []chain.ChainedEvent
	for _, events := range s.events {
		for _, event := range events {
			if event.CompanyID != companyID {
				continue
			}
			if event.Timestamp.Before(dayStart) || event.Timestamp.After(dayEnd) {
				continue
			}
			out = append(out, event)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CompaniesWithEvents(_ context.Context, dayStart, dayEnd time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]struct{})
	for _, events := range s.events {
		for _, event := range events {
			if event.Timestamp.Before(dayStart) || event.Timestamp.After(dayEnd) {
				continue
			}
			seen[event.CompanyID] = struct{}{}
		}
	}
	out := make([]uuid.UUID, 0, len(seen))
	for companyID := range seen {
		out = append(out, companyID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
