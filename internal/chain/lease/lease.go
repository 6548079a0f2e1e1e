// Package lease serializes appends per subject. A lease is advisory: the
// storage-level compare-and-swap still guards correctness, the lease just
// keeps well-behaved instances from burning retries against each other.
package lease

import (
	"context"
	"sync"
	"time"
)

// Locker grants short-lived exclusive leases by key.
type Locker interface {
	// Acquire blocks until the lease for key is held or ctx is done. The
	// returned release function is safe to call once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), err error)
}

// MemoryLocker serializes within a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMemory() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, _ time.Duration) (func(context.Context), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func(context.Context) { m.Unlock() }, nil
	case <-ctx.Done():
		// The goroutine will still take the mutex; release it when it does.
		go func() {
			<-acquired
			m.Unlock()
		}()
		return nil, ctx.Err()
	}
}
