package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value      string
	expiration time.Time
}

// Memory is a process-local Cache. Expired entries are dropped on read.
type Memory struct {
	data map[string]entry
	lock sync.Mutex
	now  func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		data: map[string]entry{},
		now:  now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	e, ok := m.lookup(key)
	return e.value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.data[key] = entry{value: value, expiration: m.now().Add(ttl)}
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.data[key] = entry{value: value, expiration: m.now().Add(ttl)}
	return true, nil
}

// lookup must be called with the lock held.
func (m *Memory) lookup(key string) (entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return entry{}, false
	}
	if !m.now().Before(e.expiration) {
		delete(m.data, key)
		return entry{}, false
	}
	return e, true
}
