// Package store provides an in-memory ledger.Gateway.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/warp/pallet-ledger/ledger"
)

// =============================================================================
// MEMORY GATEWAY - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps one versioned snapshot and pushes every successful write to
// subscribers synchronously.
type Memory struct {
	ledger.Feed

	mu      sync.RWMutex
	current ledger.Snapshot
	writes  int

	// BeforeWrite runs before the version check. Tests use it to slip in a
	// competing write.
	BeforeWrite func()
	// FailWrites makes every WriteSnapshot return this error when set.
	FailWrites error
}

func NewMemory() *Memory {
	return &Memory{current: ledger.Snapshot{Stock: ledger.Stock{}}}
}

// Seed replaces the stored snapshot without bumping the version or publishing.
func (m *Memory) Seed(stock ledger.Stock, txs []ledger.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = ledger.Snapshot{Version: m.current.Version, Stock: stock, Transactions: txs}.Clone()
}

func (m *Memory) Load(_ context.Context) (ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone(), nil
}

func (m *Memory) WriteSnapshot(_ context.Context, snap ledger.Snapshot) (int64, error) {
	if hook := m.BeforeWrite; hook != nil {
		hook()
	}

	m.mu.Lock()
	if m.FailWrites != nil {
		m.mu.Unlock()
		return 0, m.FailWrites
	}
	if snap.Version != m.current.Version {
		m.mu.Unlock()
		return 0, fmt.Errorf("%w: base %d, current %d", ledger.ErrVersionConflict, snap.Version, m.current.Version)
	}
	next := snap.Clone()
	next.Version = m.current.Version + 1
	m.current = next
	m.writes++
	pushed := next.Clone()
	m.mu.Unlock()

	m.Publish(pushed)
	return pushed.Version, nil
}

func (m *Memory) ReadOnce(_ context.Context, path string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch path {
	case ledger.PathStock:
		return json.Marshal(m.current.Stock)
	case ledger.PathTransactions:
		return json.Marshal(m.current.Transactions)
	case ledger.PathVersion:
		return json.Marshal(m.current.Version)
	}
	return nil, fmt.Errorf("read %q: %w", path, ledger.ErrNotFound)
}

// Reset empties stock and history under a new version and publishes the result.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	m.current = ledger.Snapshot{Version: m.current.Version + 1, Stock: ledger.Stock{}}
	pushed := m.current.Clone()
	m.mu.Unlock()

	m.Publish(pushed)
	return nil
}

// Writes reports how many snapshots were committed.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

var _ ledger.Gateway = (*Memory)(nil)
