package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/ledger"
	"chronoseal/pkg/sentinel"
)

// MemoryStore is the in-memory ledger store used in tests and single-node
// deployments without postgres.
type MemoryStore struct {
	mu      sync.Mutex
	threads map[uuid.UUID][]ledger.Entry
	tails   map[uuid.UUID]string
	byID    map[uuid.UUID]*ledger.Entry
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		threads: make(map[uuid.UUID][]ledger.Entry),
		tails:   make(map[uuid.UUID]string),
		byID:    make(map[uuid.UUID]*ledger.Entry),
	}
}

func (s *MemoryStore) Append(_ context.Context, entry ledger.Entry, expectedTail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tails[entry.ThreadID] != expectedTail {
		return sentinel.ErrConflict
	}

	s.threads[entry.ThreadID] = append(s.threads[entry.ThreadID], entry)
	s.tails[entry.ThreadID] = entry.ContentHash
	stored := &s.threads[entry.ThreadID][len(s.threads[entry.ThreadID])-1]
	s.byID[entry.ID] = stored
	return nil
}

func (s *MemoryStore) Tail(_ context.Context, threadID uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tails[threadID], nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := *entry
	return &out, nil
}

func (s *MemoryStore) ListByThread(_ context.Context, threadID uuid.UUID) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.threads[threadID]
	out := make([]ledger.Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *MemoryStore) ListUnsealed(_ context.Context, limit int) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ledger.Entry
	for _, entries := range s.threads {
		for _, entry := range entries {
			if entry.QTSPToken == "" {
				out = append(out, entry)
			}
		}
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

func (s *MemoryStore) AttachSeal(_ context.Context, id uuid.UUID, sealedAt time.Time, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	at := sealedAt
	entry.QTSPTimestamp = &at
	entry.QTSPToken = token
	return nil
}
