package lease

import (
	"context"
	"sync"
	"time"

	"github.com/jun/docrag/backend/internal/model"
)

// MemoryLocker implements Locker in process memory.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]*model.SyncLease
	ttl    time.Duration
}

func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLocker{leases: make(map[string]*model.SyncLease), ttl: ttl}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key, owner string) (*model.SyncLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Unix()
	if existing, ok := m.leases[key]; ok {
		if existing.ExpiresAt > now && existing.Owner != owner {
			return nil, ErrLocked
		}
	}
	l := &model.SyncLease{LeaseKey: key, Owner: owner, ExpiresAt: now + int64(m.ttl.Seconds())}
	m.leases[key] = l
	copied := *l
	return &copied, nil
}

func (m *MemoryLocker) Heartbeat(ctx context.Context, key, owner string) (*model.SyncLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.Owner != owner {
		return nil, ErrNotOwner
	}
	existing.ExpiresAt = time.Now().Unix() + int64(m.ttl.Seconds())
	copied := *existing
	return &copied, nil
}

func (m *MemoryLocker) Release(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.Owner != owner {
		return ErrNotOwner
	}
	delete(m.leases, key)
	return nil
}

func (m *MemoryLocker) Status(ctx context.Context, key string) (*model.SyncLease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.ExpiresAt < time.Now().Unix() {
		return nil, nil
	}
	copied := *existing
	return &copied, nil
}
