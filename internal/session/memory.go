package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryManager keeps sessions in process memory. Suitable for tests and
// single-instance development runs.
type MemoryManager struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	expiries map[string]time.Time
}

// NewMemoryManager creates an in-process Manager.
func NewMemoryManager(ttl time.Duration) *MemoryManager {
	return &MemoryManager{
		ttl:      ttl,
		now:      time.Now,
		expiries: make(map[string]time.Time),
	}
}

func (m *MemoryManager) Issue(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.expiries[id] = m.now().Add(m.ttl)
	return id, nil
}

func (m *MemoryManager) Touch(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.expiries[id]
	if !ok {
		return false, nil
	}
	if m.now().After(expiry) {
		delete(m.expiries, id)
		return false, nil
	}
	m.expiries[id] = m.now().Add(m.ttl)
	return true, nil
}
