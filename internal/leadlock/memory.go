package leadlock

import (
	"context"
	"sync"
)

// MemoryRepository holds locks in a map guarded by one mutex, which makes
// every TryLock batch atomic.
type MemoryRepository struct {
	mu    sync.Mutex
	locks map[string]Lock
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{locks: make(map[string]Lock)}
}

func (r *MemoryRepository) TryLock(_ context.Context, locks []Lock) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acquired := make(map[string]bool, len(locks))
	for _, l := range locks {
		if cur, ok := r.locks[l.Key]; ok && cur.Status.Suppresses() {
			continue
		}
		l.Status = StatusQueued
		r.locks[l.Key] = l
		acquired[l.Key] = true
	}
	return acquired, nil
}

func (r *MemoryRepository) SetStatus(_ context.Context, locks []Lock, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range locks {
		l.Status = status
		r.locks[l.Key] = l
	}
	return nil
}

func (r *MemoryRepository) Clear(_ context.Context, keys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.locks, k)
	}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, key string) (*Lock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}
