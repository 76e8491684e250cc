package memory

import (
	"fmt"
	"sync"

	"github.com/Layr-Labs/eigenx-session-signer/pkg/persistence"
)

// MemoryPersistence is an in-memory implementation of ISessionPersistence.
// This implementation is intended for TESTING and development networks.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// sessionId -> record
	sessions map[string]*persistence.SessionRecord

	closed bool
}

var _ persistence.ISessionPersistence = (*MemoryPersistence)(nil)

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		sessions: make(map[string]*persistence.SessionRecord),
	}
}

func (m *MemoryPersistence) SaveSession(session *persistence.SessionRecord) error {
	if session == nil {
		return fmt.Errorf("cannot save nil SessionRecord")
	}
	if session.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.sessions[session.ID] = session.Copy()
	return nil
}

func (m *MemoryPersistence) LoadSession(id string) (*persistence.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	session, exists := m.sessions[id]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return session.Copy(), nil
}

func (m *MemoryPersistence) ListSessions() ([]*persistence.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	result := make([]*persistence.SessionRecord, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, s.Copy())
	}
	persistence.SortSessions(result)
	return result, nil
}

func (m *MemoryPersistence) RevokeSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	session, exists := m.sessions[id]
	if !exists {
		return persistence.ErrSessionNotFound
	}
	session.Revoked = true
	return nil
}

func (m *MemoryPersistence) RecordSignature(id string, usedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	session, exists := m.sessions[id]
	if !exists {
		return persistence.ErrSessionNotFound
	}
	session.SignCount++
	session.LastUsedAt = usedAt
	return nil
}

func (m *MemoryPersistence) DeleteExpiredSessions(cutoff int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, fmt.Errorf("persistence layer is closed")
	}

	deleted := 0
	for id, s := range m.sessions {
		if s.IsExpiredAt(cutoff) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Close marks the persistence layer as closed. Idempotent.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.sessions = nil
	return nil
}

func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}
	return nil
}
