package runlock

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

// Memory is an in-process lock table. Expired holds are treated as released.
type Memory struct {
	mu   sync.Mutex
	held map[string]hold
	now  func() time.Time
	seq  uint64
}

type hold struct {
	token     uint64
	expiresAt time.Time
}

// NewMemory creates an empty lock table. A nil now func uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{held: make(map[string]hold), now: now}
}

// TryLock acquires key for ttl or returns catalog.ErrRunInProgress.
func (m *Memory) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if h, ok := m.held[key]; ok && now.Before(h.expiresAt) {
		return nil, catalog.ErrRunInProgress
	}
	m.seq++
	token := m.seq
	m.held[key] = hold{token: token, expiresAt: now.Add(ttl)}
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if h, ok := m.held[key]; ok && h.token == token {
			delete(m.held, key)
		}
		return nil
	}, nil
}
