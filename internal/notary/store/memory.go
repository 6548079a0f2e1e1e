package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/notary"
	"chronoseal/pkg/sentinel"
)

type groupKey struct {
	companyID uuid.UUID
	period    string
}

// MemoryStore is the in-memory evidence store used in tests and single-node
// deployments without postgres.
type MemoryStore struct {
	mu        sync.Mutex
	evidences map[uuid.UUID]*notary.Evidence
	byRoot    map[uuid.UUID]uuid.UUID
	byEntry   map[uuid.UUID]uuid.UUID
	groups    map[groupKey]notary.Group
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		evidences: make(map[uuid.UUID]*notary.Evidence),
		byRoot:    make(map[uuid.UUID]uuid.UUID),
		byEntry:   make(map[uuid.UUID]uuid.UUID),
		groups:    make(map[groupKey]notary.Group),
	}
}

func (s *MemoryStore) Create(_ context.Context, evidence notary.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evidence.DailyRootID != nil {
		if _, exists := s.byRoot[*evidence.DailyRootID]; exists {
			return sentinel.ErrConflict
		}
	}
	if evidence.LedgerEntryID != nil {
		if _, exists := s.byEntry[*evidence.LedgerEntryID]; exists {
			return sentinel.ErrConflict
		}
	}

	stored := evidence
	s.evidences[evidence.ID] = &stored
	if evidence.DailyRootID != nil {
		s.byRoot[*evidence.DailyRootID] = evidence.ID
	}
	if evidence.LedgerEntryID != nil {
		s.byEntry[*evidence.LedgerEntryID] = evidence.ID
	}
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*notary.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evidence, ok := s.evidences[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *evidence
	return &out, nil
}

func (s *MemoryStore) ClaimProcessing(_ context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evidence, ok := s.evidences[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if evidence.Status != notary.StatusPending {
		return sentinel.ErrConflict
	}
	evidence.Status = notary.StatusProcessing
	evidence.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id uuid.UUID, sealedAt time.Time, token, serialNumber string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evidence, ok := s.evidences[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	at := sealedAt
	evidence.Status = notary.StatusCompleted
	evidence.SealedAt = &at
	evidence.TSPToken = token
	evidence.SerialNumber = serialNumber
	evidence.ErrorMessage = ""
	evidence.NextRetryAt = nil
	evidence.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ScheduleRetry(_ context.Context, id uuid.UUID, retryCount int, nextRetryAt time.Time, errMessage string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evidence, ok := s.evidences[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	at := nextRetryAt
	evidence.Status = notary.StatusPending
	evidence.RetryCount = retryCount
	evidence.NextRetryAt = &at
	evidence.ErrorMessage = errMessage
	evidence.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, errMessage string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evidence, ok := s.evidences[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	evidence.Status = notary.StatusFailed
	evidence.ErrorMessage = errMessage
	evidence.NextRetryAt = nil
	evidence.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Requeue(_ context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	evidence, ok := s.evidences[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if evidence.Status != notary.StatusFailed {
		return sentinel.ErrConflict
	}
	evidence.Status = notary.StatusPending
	evidence.RetryCount = 0
	evidence.NextRetryAt = nil
	evidence.ErrorMessage = ""
	evidence.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]notary.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []notary.Evidence
	for _, evidence := range s.evidences {
		if evidence.Status != notary.StatusPending {
			continue
		}
		if evidence.NextRetryAt != nil && evidence.NextRetryAt.After(now) {
			continue
		}
		out = append(out, *evidence)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) EnsureGroup(_ context.Context, companyID uuid.UUID, period string, now time.Time) (notary.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := groupKey{companyID: companyID, period: period}
	if group, ok := s.groups[key]; ok {
		return group, nil
	}
	group := notary.Group{
		ID:        uuid.New(),
		CompanyID: companyID,
		Period:    period,
		CreatedAt: now,
	}
	s.groups[key] = group
	return group, nil
}

func (s *MemoryStore) ListByGroup(_ context.Context, groupID uuid.UUID) ([]notary.Evidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []notary.Evidence
	for _, evidence := range s.evidences {
		if evidence.GroupID == groupID {
			out = append(out, *evidence)
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
