package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// MockLedger keeps anchored roots in memory. Transaction ids are derived from
// the root and a sequence number so they are stable across runs.
type MockLedger struct {
	mu      sync.Mutex
	seq     int
	records map[string]string
}

func NewMockLedger() *MockLedger {
	return &MockLedger{records: map[string]string{}}
}

func (m *MockLedger) Write(root string, metadata string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[root]; ok {
		return "", errors.Errorf("root %s already anchored", root)
	}
	m.seq++
	m.records[root] = metadata
	sum := sha256.Sum256([]byte(root + "/" + strconv.Itoa(m.seq)))
	return "0x" + hex.EncodeToString(sum[:]), nil
}

func (m *MockLedger) Read(root string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.records[root]
	if !ok {
		return "", errors.Errorf("root %s not found", root)
	}
	return meta, nil
}
