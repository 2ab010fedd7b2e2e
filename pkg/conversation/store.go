package conversation

import (
	"context"
	"sync"
	"time"
)

// Store persists conversation state keyed by user ID.
// Get returns the idle state when nothing is stored or the entry expired.
type Store interface {
	Get(ctx context.Context, userID int64) (State, error)
	Put(ctx context.Context, userID int64, state State) error
	Clear(ctx context.Context, userID int64) error
}

const defaultMaxEntries = 10000

// MemoryStore keeps states in-process, bounded in size and expiring after an
// idle TTL.
type MemoryStore struct {
	mu         sync.Mutex
	states     map[int64]State
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore builds an in-memory store. maxEntries <= 0 uses a default cap.
func NewMemoryStore(ttl time.Duration, maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryStore{
		states:     make(map[int64]State),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the state for userID.
func (m *MemoryStore) Get(_ context.Context, userID int64) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[userID]
	if !ok {
		return Idle(), nil
	}
	if s.Expired(m.now(), m.ttl) {
		delete(m.states, userID)
		return Idle(), nil
	}
	return s, nil
}

// Put stores state for userID, stamping UpdatedAt. Idle states are removed.
func (m *MemoryStore) Put(_ context.Context, userID int64, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.IsIdle() {
		delete(m.states, userID)
		return nil
	}
	state.UpdatedAt = m.now().UTC()
	if _, exists := m.states[userID]; !exists && len(m.states) >= m.maxEntries {
		m.evictLocked()
	}
	m.states[userID] = state
	return nil
}

// Clear removes the state for userID.
func (m *MemoryStore) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

func (m *MemoryStore) sweepLocked() int {
	now := m.now()
	removed := 0
	for id, s := range m.states {
		if s.Expired(now, m.ttl) {
			delete(m.states, id)
			removed++
		}
	}
	return removed
}

// evictLocked frees room by sweeping, then by dropping the stalest entry.
func (m *MemoryStore) evictLocked() {
	if m.sweepLocked() > 0 {
		return
	}
	var (
		oldestID int64
		oldest   time.Time
		found    bool
	)
	for id, s := range m.states {
		if !found || s.UpdatedAt.Before(oldest) {
			oldestID, oldest, found = id, s.UpdatedAt, true
		}
	}
	if found {
		delete(m.states, oldestID)
	}
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
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
