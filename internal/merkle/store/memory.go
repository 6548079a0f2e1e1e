package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronoseal/internal/merkle"
	"chronoseal/pkg/sentinel"
)

type rootKey struct {
	companyID uuid.UUID
	date      time.Time
}

// MemoryStore is the in-memory daily root store.
type MemoryStore struct {
	mu    sync.Mutex
	roots map[rootKey]merkle.DailyRoot
	byID  map[uuid.UUID]rootKey
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		roots: make(map[rootKey]merkle.DailyRoot),
		byID:  make(map[uuid.UUID]rootKey),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, root merkle.DailyRoot) (merkle.DailyRoot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rootKey{companyID: root.CompanyID, date: merkle.Day(root.Date)}
	if existing, ok := s.roots[key]; ok {
		root.ID = existing.ID
	} else if root.ID == uuid.Nil {
		root.ID = uuid.New()
	}
	root.Date = key.date
	s.roots[key] = root
	s.byID[root.ID] = key
	return root, nil
}

func (s *MemoryStore) Get(_ context.Context, companyID uuid.UUID, date time.Time) (*merkle.DailyRoot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, ok := s.roots[rootKey{companyID: companyID, date: merkle.Day(date)}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := root
	return &out, nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*merkle.DailyRoot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	root := s.roots[key]
	return &root, nil
}
