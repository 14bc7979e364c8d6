package cache

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a thread-safe in-process cache with per-key TTLs.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]memoryItem
	clock func() time.Time
}

// NewMemory creates an empty cache. A nil now func uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		data:  make(map[string]memoryItem),
		clock: now,
	}
}

// Get returns a copy of the stored value or catalog.ErrCacheMiss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	item, ok := m.data[key]
	m.mu.RUnlock()
	if !ok || !m.clock().Before(item.expiresAt) {
		return nil, catalog.ErrCacheMiss
	}
	return append([]byte(nil), item.value...), nil
}

// Set stores value for ttl. A non-positive ttl deletes the key.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		delete(m.data, key)
		return nil
	}
	m.data[key] = memoryItem{
		value:     append([]byte(nil), value...),
		expiresAt: m.clock().Add(ttl),
	}
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, item := range m.data {
		if !now.Before(item.expiresAt) {
			delete(m.data, key)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Memory) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
