package db

import (
	"context"
	"sync"

	"perf-collector/internal/core"

	"github.com/pkg/errors"
)

// MemoryDB keeps batches in memory. It implements core.Database for tests and
// the replay command.
type MemoryDB struct {
	mu      sync.RWMutex
	batches map[string]BatchRecord
	order   []string
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{batches: make(map[string]BatchRecord)}
}

func (m *MemoryDB) SaveBatch(_ context.Context, batch *core.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[batch.ID]; ok {
		return errors.Errorf("batch %s already saved", batch.ID)
	}
	m.batches[batch.ID] = toRecord(batch)
	m.order = append(m.order, batch.ID)
	return nil
}

func (m *MemoryDB) Get(_ context.Context, id string) (*BatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.batches[id]
	if !ok {
		return nil, errors.Errorf("batch %s not found", id)
	}
	return &rec, nil
}

// List returns saved batches in save order.
func (m *MemoryDB) List() []BatchRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]BatchRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.batches[id])
	}
	return out
}
