package redisstore

import (
	"context"
	"sync"
	"time"
)

// MemoryRecency is the in-process twin of RecencyStore for tests and local runs.
type MemoryRecency struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemoryRecency() *MemoryRecency { return &MemoryRecency{last: map[string]time.Time{}} }

func (m *MemoryRecency) MarkCompleted(ctx context.Context, leadID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[leadID] = at
	return nil
}

func (m *MemoryRecency) LastCompleted(ctx context.Context, leadID string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.last[leadID]
	return t, ok, nil
}

// MemoryDNC is the in-process twin of DNCSet.
type MemoryDNC struct {
	mu      sync.RWMutex
	numbers map[string]struct{}
}

func NewMemoryDNC(phones ...string) *MemoryDNC {
	m := &MemoryDNC{numbers: map[string]struct{}{}}
	for _, p := range phones {
		m.numbers[NormalizePhone(p)] = struct{}{}
	}
	return m
}

func (m *MemoryDNC) IsSuppressed(ctx context.Context, phone string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.numbers[NormalizePhone(phone)]
	return ok, nil
}

func (m *MemoryDNC) Add(ctx context.Context, phones ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range phones {
		m.numbers[NormalizePhone(p)] = struct{}{}
	}
	return nil
}
