package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/pallet-ledger/catalog"
	"github.com/warp/pallet-ledger/ledger"
	"github.com/warp/pallet-ledger/ledger/store"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

const (
	branchA   ledger.LocationID = "branch-a"
	branchB   ledger.LocationID = "branch-b"
	hub       ledger.LocationID = "hub-central"
	provider  ledger.LocationID = "chep"
	provider2 ledger.LocationID = "ipp"
	customer  ledger.LocationID = "retail-co"
	pool      ledger.LocationID = "lpr-pool"

	euro    ledger.PalletTypeID = "euro-wood"
	blue    ledger.PalletTypeID = "chep-blue"
	generic ledger.PalletTypeID = "generic"
)

var fixedNow = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		[]ledger.Location{
			{ID: branchA, Name: "Branch A", Kind: ledger.KindBranch, Channel: "ops-a"},
			{ID: branchB, Name: "Branch B", Kind: ledger.KindBranch},
			{ID: hub, Name: "Central Hub", Kind: ledger.KindHub},
		},
		[]ledger.Partner{
			{ID: provider, Name: "CHEP", Role: ledger.RoleProvider},
			{ID: provider2, Name: "IPP", Role: ledger.RoleProvider},
			{ID: customer, Name: "Retail Co", Role: ledger.RoleCustomer, AllowedPalletTypes: []ledger.PalletTypeID{euro, generic}},
			{ID: pool, Name: "LPR Pool", Role: ledger.RoleProvider},
		},
		[]ledger.PalletType{
			{ID: euro, Name: "EUR wooden", Material: "wood"},
			{ID: blue, Name: "CHEP blue", Material: "wood", Rental: true},
			{ID: generic, Name: "Generic", Material: "wood"},
		},
	)
	require.NoError(t, err)
	return c
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	channels []string
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, channel, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, channel)
	n.messages = append(n.messages, message)
	return n.err
}

type testEnv struct {
	ledger   *ledger.Ledger
	gateway  *store.Memory
	notifier *recordingNotifier
}

func newTestLedger(t *testing.T, mutate ...func(*ledger.Options)) testEnv {
	t.Helper()
	gw := store.NewMemory()
	n := &recordingNotifier{}
	opts := ledger.Options{
		Notifier:       n,
		DefaultChannel: "ops",
		Clock:          func() time.Time { return fixedNow },
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	l := ledger.New(gw, testCatalog(t), opts)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Close)
	return testEnv{ledger: l, gateway: gw, notifier: n}
}

// seed records opening balances as initial adjustments so live stock and
// history agree from the start.
func (e testEnv) seed(t *testing.T, stock ledger.Stock) {
	t.Helper()
	for loc, row := range stock {
		for pt, qty := range row {
			_, err := e.ledger.AdjustStock(context.Background(), ledger.AdjustInput{
				Target:      loc,
				PalletType:  pt,
				NewQuantity: qty,
				Reason:      "opening balance count",
				Actor:       "tester",
				IsInitial:   true,
			})
			require.NoError(t, err)
		}
	}
}

func move(cat ledger.Category, from, to ledger.LocationID, items ...ledger.MovementItem) ledger.MovementInput {
	return ledger.MovementInput{Category: cat, Source: from, Destination: to, Items: items, Actor: "tester"}
}

func item(pt ledger.PalletTypeID, qty int) ledger.MovementItem {
	return ledger.MovementItem{PalletType: pt, Quantity: qty}
}

var errBoom = errors.New("boom")
