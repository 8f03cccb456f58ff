package history

import (
	"context"
	"sync"
	"time"
)

// MemoryKV is a process-local KeyValue. It also hands out in-flight leases.
type MemoryKV struct {
	mu     sync.RWMutex
	data   map[string]string
	leases map[string]time.Time
	now    func() time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		data:   make(map[string]string),
		leases: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKV) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Acquire takes the lease on key unless an unexpired one is held.
func (m *MemoryKV) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if until, ok := m.leases[key]; ok && now.Before(until) {
		return false, nil
	}
	m.leases[key] = now.Add(ttl)
	return true, nil
}

// Release drops the lease on key.
func (m *MemoryKV) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, key)
	return nil
}
