package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pallet-ledger/ledger"
)

func completed(src, dst ledger.LocationID, pt ledger.PalletTypeID, qty int) ledger.Transaction {
	return ledger.Transaction{
		Category:    ledger.CategoryOut,
		Status:      ledger.StatusCompleted,
		Source:      src,
		Destination: dst,
		PalletType:  pt,
		Quantity:    qty,
	}
}

// =============================================================================
// SIGN CONVENTIONS
// =============================================================================

func TestResolveConventions_RoleBased(t *testing.T) {
	conv, ok := ledger.ResolveConventions(provider, ledger.RoleProvider, euro, nil)
	require.True(t, ok)
	assert.Equal(t, 10, conv.Movement.Contribution(completed(provider, branchA, euro, 10)))
	assert.Equal(t, -4, conv.Movement.Contribution(completed(branchA, provider, euro, 4)))

	conv, ok = ledger.ResolveConventions(customer, ledger.RoleCustomer, euro, nil)
	require.True(t, ok)
	assert.Equal(t, 10, conv.Movement.Contribution(completed(branchA, customer, euro, 10)))
	assert.Equal(t, -4, conv.Movement.Contribution(completed(customer, branchA, euro, 4)))

	_, ok = ledger.ResolveConventions("stranger", "", euro, nil)
	assert.False(t, ok)
}

func TestResolveConventions_SpecialPartnerRule(t *testing.T) {
	rules := ledger.SignRules{
		{Partner: pool, Upstream: provider, Downstream: provider2},
		{Partner: pool, PalletType: blue, Upstream: provider2, Downstream: provider},
	}

	// Exact pallet type wins over the wildcard
	conv, ok := ledger.ResolveConventions(pool, ledger.RoleProvider, blue, rules)
	require.True(t, ok)
	assert.Equal(t, provider2, conv.Movement.PlusWhenSource)
	assert.Equal(t, provider, conv.Movement.MinusWhenDest)

	conv, ok = ledger.ResolveConventions(pool, ledger.RoleProvider, euro, rules)
	require.True(t, ok)
	assert.Equal(t, provider, conv.Movement.PlusWhenSource)
	assert.Equal(t, provider2, conv.Movement.MinusWhenDest)
	// ADJUST records are read against the partner itself
	assert.Equal(t, ledger.ProviderConvention(pool), conv.Adjust)

	// Received from upstream, returned downstream
	txs := []ledger.Transaction{
		completed(provider, branchA, euro, 30),
		completed(branchA, provider2, euro, 12),
		completed(branchA, provider, euro, 5), // not downstream: ignored
	}
	assert.Equal(t, 18, ledger.PartnerBalance(txs, conv, euro))
}

// =============================================================================
// FOLDS
// =============================================================================

func TestPartnerBalance_OnlyCompletedOfRequestedType(t *testing.T) {
	conv, _ := ledger.ResolveConventions(provider, ledger.RoleProvider, euro, nil)

	pending := completed(provider, branchA, euro, 7)
	pending.Status = ledger.StatusPending
	cancelled := completed(provider, branchA, euro, 9)
	cancelled.Status = ledger.StatusCancelled

	txs := []ledger.Transaction{
		completed(provider, branchA, euro, 10),
		completed(provider, branchA, blue, 100),
		pending,
		cancelled,
	}
	assert.Equal(t, 10, ledger.PartnerBalance(txs, conv, euro))
	assert.Equal(t, 100, ledger.PartnerBalance(txs, conv, blue))
}

func TestStockFromHistory(t *testing.T) {
	internal := func(id ledger.LocationID) bool { return id == branchA || id == branchB }

	pending := completed(branchA, branchB, euro, 5)
	pending.Status = ledger.StatusPending
	cancelled := completed(branchA, branchB, euro, 50)
	cancelled.Status = ledger.StatusCancelled
	audit := completed(ledger.AdjustmentSentinel, branchA, euro, 99)
	audit.Category = ledger.CategoryAdjust
	audit.Reconciliation = true

	stock := ledger.StockFromHistory([]ledger.Transaction{
		completed(provider, branchA, euro, 20),
		pending,
		cancelled,
		audit,
		completed(branchA, branchB, euro, 3),
	}, internal)

	assert.Equal(t, 12, stock.Get(branchA, euro))
	assert.Equal(t, 3, stock.Get(branchB, euro))
	assert.NotContains(t, stock, provider)
}

// =============================================================================
// END TO END
// =============================================================================

func TestBalanceOf_ProviderRoundTrip(t *testing.T) {
	// GIVEN: provider P sends 10 to branch A
	env := newTestLedger(t)
	ctx := context.Background()

	_, err := env.ledger.CreateMovement(ctx, move(ledger.CategoryIn, provider, branchA, item(euro, 10)))
	require.NoError(t, err)
	bal, err := env.ledger.BalanceOf(provider, euro)
	require.NoError(t, err)
	assert.Equal(t, 10, bal)

	// WHEN: A returns the 10
	_, err = env.ledger.CreateMovement(ctx, move(ledger.CategoryOut, branchA, provider, item(euro, 10)))
	require.NoError(t, err)

	// THEN: nothing is owed
	bal, err = env.ledger.BalanceOf(provider, euro)
	require.NoError(t, err)
	assert.Equal(t, 0, bal)
}

func TestBalanceOf_SymmetricForAnyQuantity(t *testing.T) {
	// Property: a movement followed by its exact reverse leaves the balance at zero.
	for _, qty := range []int{1, 7, 250} {
		env := newTestLedger(t)
		ctx := context.Background()

		_, err := env.ledger.CreateMovement(ctx, move(ledger.CategoryIn, provider, branchA, item(blue, qty)))
		require.NoError(t, err)
		_, err = env.ledger.CreateMovement(ctx, move(ledger.CategoryOut, branchA, provider, item(blue, qty)))
		require.NoError(t, err)

		env.seed(t, ledger.Stock{branchA: {euro: qty}})
		_, err = env.ledger.CreateMovement(ctx, move(ledger.CategoryOut, branchA, customer, item(euro, qty)))
		require.NoError(t, err)
		_, err = env.ledger.CreateMovement(ctx, move(ledger.CategoryIn, customer, branchA, item(euro, qty)))
		require.NoError(t, err)

		bal, err := env.ledger.BalanceOf(provider, blue)
		require.NoError(t, err)
		assert.Equal(t, 0, bal, "provider, qty %d", qty)

		bal, err = env.ledger.BalanceOf(customer, euro)
		require.NoError(t, err)
		assert.Equal(t, 0, bal, "customer, qty %d", qty)
	}
}

func TestBalanceOf_UnknownPartner(t *testing.T) {
	env := newTestLedger(t)

	_, err := env.ledger.BalanceOf(branchA, euro)
	assert.True(t, ledger.IsNotFound(err))
}
