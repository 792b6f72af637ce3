package state

import (
	"sort"
	"sync"

	"github.com/TheMichaelB/pwvault/internal/models"
)

// MemoryStore keeps state in memory. It backs tests and runs where no
// ledger directory is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]models.SyncState
}

// NewMemoryStore creates an in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]models.SyncState),
	}
}

func (m *MemoryStore) Load(vaultID string) (*models.SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[vaultID]
	if !ok {
		return nil, ErrStateNotFound
	}
	return &st, nil
}

func (m *MemoryStore) Save(vaultID string, st *models.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[vaultID] = *st
	return nil
}

func (m *MemoryStore) Reset(vaultID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, vaultID)
	return nil
}

func (m *MemoryStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) Close() error { return nil }
