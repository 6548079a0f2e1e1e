package store

import (
	"context"
	"sync"
	"time"

	"chronoseal/internal/idempotency"
	"chronoseal/pkg/sentinel"
)

type recordKey struct {
	key      string
	endpoint string
}

// MemoryStore is the in-memory claim store used in tests and single-node
// deployments without postgres.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]idempotency.Record
}

func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]idempotency.Record)}
}

func (s *MemoryStore) Claim(_ context.Context, record idempotency.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{key: record.Key, endpoint: record.Endpoint}
	if existing, ok := s.records[key]; ok && existing.ExpiresAt.After(record.CreatedAt) {
		return false, nil
	}
	s.records[key] = record
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, key, endpoint string) (*idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordKey{key: key, endpoint: endpoint}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := record
	out.ResponseBody = append([]byte(nil), record.ResponseBody...)
	return &out, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, endpoint string, status int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := recordKey{key: key, endpoint: endpoint}
	record, ok := s.records[k]
	if !ok {
		return sentinel.ErrNotFound
	}
	record.ResponseStatus = status
	record.ResponseBody = append([]byte(nil), body...)
	s.records[k] = record
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey{key: key, endpoint: endpoint})
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for k, record := range s.records {
		if !record.ExpiresAt.After(now) {
			delete(s.records, k)
			deleted++
		}
	}
	return deleted, nil
}
