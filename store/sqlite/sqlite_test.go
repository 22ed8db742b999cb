package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pallet-ledger/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTx(id string, status ledger.Status) ledger.Transaction {
	return ledger.Transaction{
		ID:             ledger.TransactionID(id),
		Timestamp:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		DocumentNumber: "OUT-20260310-0001",
		Category:       ledger.CategoryOut,
		Status:         status,
		Source:         "branch-a",
		Destination:    "branch-b",
		PalletType:     "euro-wood",
		Quantity:       20,
	}
}

func TestStore_WriteAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// GIVEN: an empty store at version 0
	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)
	assert.Empty(t, snap.Transactions)

	// WHEN: writing stock and one transaction
	snap.Stock.Set("branch-a", "euro-wood", 30)
	snap.Transactions = append(snap.Transactions, sampleTx("tx-1", ledger.StatusPending))
	version, err := s.WriteSnapshot(ctx, snap)
	require.NoError(t, err)

	// THEN: both are read back together at the new version
	assert.Equal(t, int64(1), version)
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 30, got.Stock.Get("branch-a", "euro-wood"))
	require.Len(t, got.Transactions, 1)
	assert.Equal(t, ledger.StatusPending, got.Transactions[0].Status)
	assert.True(t, snap.Transactions[0].Timestamp.Equal(got.Transactions[0].Timestamp))
}

func TestStore_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale, err := s.Load(ctx)
	require.NoError(t, err)
	fresh := stale.Clone()
	fresh.Stock.Set("branch-a", "euro-wood", 5)
	_, err = s.WriteSnapshot(ctx, fresh)
	require.NoError(t, err)

	// The stale writer must not overwrite the fresh state.
	stale.Stock.Set("branch-a", "euro-wood", 99)
	_, err = s.WriteSnapshot(ctx, stale)
	assert.ErrorIs(t, err, ledger.ErrVersionConflict)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock.Get("branch-a", "euro-wood"))
}

func TestStore_StatusTransitionKeepsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap, _ := s.Load(ctx)
	snap.Transactions = []ledger.Transaction{sampleTx("tx-1", ledger.StatusPending), sampleTx("tx-2", ledger.StatusPending)}
	_, err := s.WriteSnapshot(ctx, snap)
	require.NoError(t, err)

	snap, _ = s.Load(ctx)
	snap.Transactions[0].Status = ledger.StatusCompleted
	received := 18
	snap.Transactions[0].OriginalQuantity = &received
	_, err = s.WriteSnapshot(ctx, snap)
	require.NoError(t, err)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.Transactions, 2)
	assert.Equal(t, ledger.TransactionID("tx-1"), got.Transactions[0].ID, "order is preserved")
	assert.Equal(t, ledger.StatusCompleted, got.Transactions[0].Status)
	require.NotNil(t, got.Transactions[0].OriginalQuantity)
	assert.Equal(t, 18, *got.Transactions[0].OriginalQuantity)
	assert.Equal(t, ledger.StatusPending, got.Transactions[1].Status)
}

func TestStore_PublishesToSubscribers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var pushed ledger.Stock
	var history []ledger.Transaction
	unsubStock := s.SubscribeStock(func(st ledger.Stock) { pushed = st })
	defer unsubStock()
	unsubTx := s.SubscribeTransactions(func(txs []ledger.Transaction) { history = txs })
	defer unsubTx()

	snap, _ := s.Load(ctx)
	snap.Stock.Set("branch-b", "generic", 7)
	snap.Transactions = []ledger.Transaction{sampleTx("tx-1", ledger.StatusCompleted)}
	_, err := s.WriteSnapshot(ctx, snap)
	require.NoError(t, err)

	assert.Equal(t, 7, pushed.Get("branch-b", "generic"))
	assert.Len(t, history, 1)
}

func TestStore_ReadOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	raw, err := s.ReadOnce(ctx, ledger.PathVersion)
	require.NoError(t, err)
	assert.JSONEq(t, "0", string(raw))

	_, err = s.ReadOnce(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestStore_CounterRespectsFloor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.Next(ctx, "docseq:OUT-20260310-", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = s.Next(ctx, "docseq:OUT-20260310-", 41)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = s.Next(ctx, "docseq:OUT-20260310-", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(43), v)
}

func TestStore_WatchPicksUpForeignCommits(t *testing.T) {
	// GIVEN: two stores over the same file, as two processes would have
	path := filepath.Join(t.TempDir(), "pallets.db")
	writer, err := New(path)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := New(path)
	require.NoError(t, err)
	defer reader.Close()

	pushed := make(chan ledger.Stock, 4)
	defer reader.SubscribeStock(func(st ledger.Stock) { pushed <- st })()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reader.Watch(ctx, 10*time.Millisecond)

	// WHEN: the other process commits
	snap, _ := writer.Load(ctx)
	snap.Stock.Set("hub-central", "euro-wood", 12)
	_, err = writer.WriteSnapshot(ctx, snap)
	require.NoError(t, err)

	// THEN: the watcher pushes it
	select {
	case st := <-pushed:
		assert.Equal(t, 12, st.Get("hub-central", "euro-wood"))
	case <-time.After(2 * time.Second):
		t.Fatal("no push from watcher")
	}
}

func TestStore_ResetKeepsVersionMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap, _ := s.Load(ctx)
	snap.Transactions = []ledger.Transaction{sampleTx("tx-1", ledger.StatusCompleted)}
	_, err := s.WriteSnapshot(ctx, snap)
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Transactions)
	assert.Equal(t, int64(2), got.Version)

	_, err = s.WriteSnapshot(ctx, snap)
	assert.ErrorIs(t, err, ledger.ErrVersionConflict)
}

func TestStore_DrivesLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cat := staticCatalog{"branch-a": true, "branch-b": true}
	l := ledger.New(s, cat, ledger.Options{Counter: s})
	require.NoError(t, l.Start(ctx))
	defer l.Close()

	_, err := l.AdjustStock(ctx, ledger.AdjustInput{
		Target: "branch-a", PalletType: "euro-wood", NewQuantity: 50,
		Reason: "opening balance count", Actor: "tester", IsInitial: true,
	})
	require.NoError(t, err)
	batch, err := l.CreateMovement(ctx, ledger.MovementInput{
		Category: ledger.CategoryOut, Source: "branch-a", Destination: "branch-b",
		Items: []ledger.MovementItem{{PalletType: "euro-wood", Quantity: 20}},
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, batch.Status)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Stock.Get("branch-a", "euro-wood"))
	assert.Len(t, got.Transactions, 2)
	assert.Empty(t, l.Drift())
}

// staticCatalog treats the listed ids as internal branches and knows one pallet type.
type staticCatalog map[ledger.LocationID]bool

func (c staticCatalog) Location(id ledger.LocationID) (ledger.Location, bool) {
	if !c[id] {
		return ledger.Location{}, false
	}
	return ledger.Location{ID: id, Name: string(id), Kind: ledger.KindBranch}, true
}

func (staticCatalog) Partner(ledger.LocationID) (ledger.Partner, bool) {
	return ledger.Partner{}, false
}

func (staticCatalog) PalletType(id ledger.PalletTypeID) (ledger.PalletType, bool) {
	return ledger.PalletType{ID: id, Name: string(id)}, id == "euro-wood"
}

func (c staticCatalog) Locations() []ledger.Location {
	var out []ledger.Location
	for id := range c {
		loc, _ := c.Location(id)
		out = append(out, loc)
	}
	return out
}
