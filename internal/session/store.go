package session

import (
	"context"
	"sync"
	"time"
)

// Store persists sessions. Get returns ErrNotFound for unknown or expired IDs
// and renews the TTL of the ones it returns. Exists never renews.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Exists(ctx context.Context, id string) (bool, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory with a sliding TTL.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Get returns a copy of the session and pushes its expiry out by the TTL.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := m.now()
	if now.After(entry.expiresAt) {
		delete(m.entries, id)
		return nil, ErrNotFound
	}
	entry.expiresAt = now.Add(m.ttl)
	m.entries[id] = entry
	return entry.session.clone(), nil
}

func (m *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	return ok && !m.now().After(entry.expiresAt), nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[s.ID()] = memoryEntry{session: s.clone(), expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Sweep drops expired sessions and returns their IDs.
func (m *MemoryStore) Sweep() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expired []string
	for id, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, id)
			expired = append(expired, id)
		}
	}
	return expired
}

func (m *MemoryStore) Close() error { return nil }
