/*
gateway.go - Interfaces between the ledger and its collaborators

PURPOSE:

	Defines every external dependency of the ledger as a small interface.
	The ledger never talks to a database, queue or catalog directly.

KEY INTERFACES:

	Gateway:    Persistence of the combined stock + transaction snapshot
	Catalog:    Read-only locations, partners and pallet types
	Notifier:   Best-effort human-readable notifications
	Counter:    Sequence source for document numbers
	WriterLock: Serializes mutating operations
	Observer:   Metrics hook for writes and notifications

COMBINED WRITE CONTRACT:

	WriteSnapshot receives stock AND transactions in one value. There is
	no method that writes only one of them, so a partial write cannot be
	expressed. The snapshot's Version is the version it was read at. A
	gateway must reject the write with ErrVersionConflict if another
	writer got there first.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory gateway for tests and dev
  - store/sqlite: SQLite gateway
  - store/postgres: PostgreSQL gateway with LISTEN/NOTIFY
  - store/redis: Redis gateway with WATCH/MULTI and PUBLISH

SEE ALSO:
  - ledger.go: The write loop using these interfaces
*/
package ledger

import (
	"context"
	"encoding/json"
	"sync"
)

// =============================================================================
// PERSISTENCE GATEWAY
// =============================================================================

// Paths accepted by Gateway.ReadOnce.
const (
	PathStock        = "stock"
	PathTransactions = "transactions"
	PathVersion      = "version"
)

// Gateway persists the ledger snapshot.
type Gateway interface {
	// SubscribeStock registers fn for every stock push. Returns an unsubscribe func.
	SubscribeStock(fn func(Stock)) (unsubscribe func())

	// SubscribeTransactions registers fn for every history push.
	SubscribeTransactions(fn func([]Transaction)) (unsubscribe func())

	// Load returns the current snapshot including its version.
	Load(ctx context.Context) (Snapshot, error)

	// WriteSnapshot stores stock and transactions atomically and returns the new version.
	WriteSnapshot(ctx context.Context, snap Snapshot) (int64, error)

	// ReadOnce returns the raw JSON stored at path. Used only for seeding.
	ReadOnce(ctx context.Context, path string) (json.RawMessage, error)
}

// =============================================================================
// CATALOG
// =============================================================================

type LocationKind string

const (
	KindBranch LocationKind = "branch"
	KindHub    LocationKind = "hub"
)

type PartnerRole string

const (
	RoleProvider PartnerRole = "provider"
	RoleCustomer PartnerRole = "customer"
)

type Location struct {
	ID      LocationID   `json:"id"`
	Name    string       `json:"name"`
	Kind    LocationKind `json:"kind"`
	Channel string       `json:"channel,omitempty"`
}

type Partner struct {
	ID                 LocationID     `json:"id"`
	Name               string         `json:"name"`
	Role               PartnerRole    `json:"role"`
	AllowedPalletTypes []PalletTypeID `json:"allowedPalletTypes,omitempty"`
}

// Allows reports whether the partner may exchange the pallet type. An empty set allows all.
func (p Partner) Allows(pt PalletTypeID) bool {
	if len(p.AllowedPalletTypes) == 0 {
		return true
	}
	for _, a := range p.AllowedPalletTypes {
		if a == pt {
			return true
		}
	}
	return false
}

type PalletType struct {
	ID       PalletTypeID `json:"id"`
	Name     string       `json:"name"`
	Material string       `json:"material,omitempty"`
	Rental   bool         `json:"rental,omitempty"`
}

// Catalog is the read-only master data view.
type Catalog interface {
	Location(id LocationID) (Location, bool)
	Partner(id LocationID) (Partner, bool)
	PalletType(id PalletTypeID) (PalletType, bool)
	Locations() []Location
}

// =============================================================================
// NOTIFIER, COUNTER, LOCK, OBSERVER
// =============================================================================

// Notifier delivers a message to a channel. Errors are logged by the ledger, never returned.
type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// Counter hands out sequence numbers per key. The returned value is always
// greater than floor, so numbers already present in history are never reused.
type Counter interface {
	Next(ctx context.Context, key string, floor int64) (int64, error)
}

// WriterLock serializes mutations. Acquire blocks until the lock is held or ctx ends.
type WriterLock interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Observer receives write outcomes for metrics.
type Observer interface {
	ObserveWrite(op string, attempts int, err error)
	ObserveNotification(channel string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveWrite(string, int, error)   {}
func (nopObserver) ObserveNotification(string, error) {}

// MutexLock is the in-process single-writer lock.
type MutexLock struct {
	mu sync.Mutex
}

func (m *MutexLock) Acquire(ctx context.Context, _ string) (func(), error) {
	locked := make(chan struct{})
	go func() {
		m.mu.Lock()
		close(locked)
	}()
	select {
	case <-locked:
		return m.mu.Unlock, nil
	case <-ctx.Done():
		// Hand the lock back once the goroutine eventually gets it.
		go func() {
			<-locked
			m.mu.Unlock()
		}()
		return nil, ErrLockNotObtained
	}
}

// =============================================================================
// FEED - Subscription fan-out shared by gateway implementations
// =============================================================================

// Feed fans snapshot pushes out to stock and transaction subscribers.
// Gateways embed it and call Publish after every successful write.
// Deliveries are serialized and never go back in version, so a push that
// loses a race with a newer one is dropped.
type Feed struct {
	mu      sync.Mutex
	nextID  int
	stock   map[int]func(Stock)
	history map[int]func([]Transaction)

	deliver   sync.Mutex
	delivered bool
	last      int64
}

func (f *Feed) SubscribeStock(fn func(Stock)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stock == nil {
		f.stock = make(map[int]func(Stock))
	}
	id := f.nextID
	f.nextID++
	f.stock[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.stock, id)
	}
}

func (f *Feed) SubscribeTransactions(fn func([]Transaction)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.history == nil {
		f.history = make(map[int]func([]Transaction))
	}
	id := f.nextID
	f.nextID++
	f.history[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.history, id)
	}
}

// Publish pushes a copy of snap to every subscriber. It reports false when
// a snapshot of the same or a newer version was already delivered.
func (f *Feed) Publish(snap Snapshot) bool {
	f.deliver.Lock()
	defer f.deliver.Unlock()
	if f.delivered && snap.Version <= f.last {
		return false
	}
	f.delivered, f.last = true, snap.Version

	f.mu.Lock()
	stockSubs := make([]func(Stock), 0, len(f.stock))
	for _, fn := range f.stock {
		stockSubs = append(stockSubs, fn)
	}
	historySubs := make([]func([]Transaction), 0, len(f.history))
	for _, fn := range f.history {
		historySubs = append(historySubs, fn)
	}
	f.mu.Unlock()

	for _, fn := range stockSubs {
		fn(snap.Stock.Clone())
	}
	for _, fn := range historySubs {
		txs := make([]Transaction, len(snap.Transactions))
		copy(txs, snap.Transactions)
		fn(txs)
	}
	return true
}
