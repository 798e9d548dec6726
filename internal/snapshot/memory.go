package snapshot

import (
	"context"
	"sync"

	"github.com/schaermu/gitcom/internal/structure"
)

// MemoryStore keeps the snapshot in process. Used for dry runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	state structure.State
	meta  Meta
	saves int
	// LoadErr, when set, is returned by Load.
	LoadErr error
	// SaveErr, when set, is returned by Save.
	SaveErr error
}

// NewMemoryStore creates a store seeded with s
func NewMemoryStore(s structure.State) *MemoryStore {
	return &MemoryStore{state: s}
}

func (m *MemoryStore) Load(_ context.Context) (structure.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return structure.New(), m.LoadErr
	}
	return m.state, nil
}

func (m *MemoryStore) Save(_ context.Context, s structure.State, meta Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.state = s
	m.meta = meta
	m.saves++
	return nil
}

// Saves returns how many times Save succeeded
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// LastMeta returns the meta of the last successful save
func (m *MemoryStore) LastMeta() Meta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta
}
