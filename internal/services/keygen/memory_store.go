package keygen

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Put(ctx context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		if _, ok := m.records[r.Hash]; ok {
			continue
		}
		m.records[r.Hash] = r
	}
	return nil
}

func (m *MemoryStore) Redeem(ctx context.Context, hash, device string, at time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if r.Redeemed() {
		return nil, ErrKeyRedeemed
	}
	r.RedeemedAt = &at
	r.RedeemedBy = device
	m.records[hash] = r
	return &r, nil
}

func (m *MemoryStore) Get(ctx context.Context, hash string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[hash]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &r, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
