package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pallet-ledger/ledger"
)

func dispatch(t *testing.T, env testEnv, items ...ledger.MovementItem) ledger.Batch {
	t.Helper()
	batch, err := env.ledger.CreateMovement(context.Background(), move(ledger.CategoryOut, branchA, branchB, items...))
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, batch.Status)
	return batch
}

// =============================================================================
// CONFIRMATION WITH CORRECTION
// =============================================================================

func TestConfirmBatch_ShortReceiptRefundsDifference(t *testing.T) {
	// GIVEN: A=50, 20 dispatched to B (A=30)
	env := newTestLedger(t)
	ctx := context.Background()
	env.seed(t, ledger.Stock{branchA: {euro: 50}})
	batch := dispatch(t, env, item(euro, 20))
	id := batch.Transactions[0].ID

	// WHEN: B counts 18 on arrival
	receivedAt := fixedNow.Add(3 * time.Hour)
	err := env.ledger.ConfirmBatch(ctx, ledger.ConfirmInput{
		TransactionIDs: []ledger.TransactionID{id},
		Corrections:    []ledger.Correction{{TransactionID: id, Quantity: 18}},
		ReceivedAt:     receivedAt,
		Actor:          "receiver-b",
	})
	require.NoError(t, err)

	// THEN: A=32, B=18, original quantity kept for audit
	assert.Equal(t, 32, env.ledger.Stock(branchA)[euro])
	assert.Equal(t, 18, env.ledger.Stock(branchB)[euro])

	tx, ok := env.ledger.Transaction(id)
	require.True(t, ok)
	assert.Equal(t, ledger.StatusCompleted, tx.Status)
	assert.Equal(t, 18, tx.Quantity)
	require.NotNil(t, tx.OriginalQuantity)
	assert.Equal(t, 20, *tx.OriginalQuantity)
	assert.Equal(t, euro, tx.OriginalPalletType)
	require.NotNil(t, tx.ReceivedAt)
	assert.True(t, receivedAt.Equal(*tx.ReceivedAt))
	assert.Empty(t, env.ledger.Drift())
}

func TestConfirmBatch_PalletTypeCorrection(t *testing.T) {
	// GIVEN: A holds euro and generic, 10 euro dispatched
	env := newTestLedger(t)
	env.seed(t, ledger.Stock{branchA: {euro: 10, generic: 10}})
	batch := dispatch(t, env, item(euro, 10))
	id := batch.Transactions[0].ID

	// WHEN: B actually received 10 generic
	err := env.ledger.ConfirmBatch(context.Background(), ledger.ConfirmInput{
		TransactionIDs: []ledger.TransactionID{id},
		Corrections:    []ledger.Correction{{TransactionID: id, PalletType: generic}},
	})
	require.NoError(t, err)

	// THEN: euro went back to A, generic left A and arrived at B
	assert.Equal(t, 10, env.ledger.Stock(branchA)[euro])
	assert.Equal(t, 0, env.ledger.Stock(branchA)[generic])
	assert.Equal(t, 10, env.ledger.Stock(branchB)[generic])
	assert.Equal(t, 0, env.ledger.Stock(branchB)[euro])
}

func TestConfirmBatch_CorrectionCannotOverdrawSource(t *testing.T) {
	env := newTestLedger(t)
	env.seed(t, ledger.Stock{branchA: {euro: 20}})
	batch := dispatch(t, env, item(euro, 20))
	id := batch.Transactions[0].ID

	err := env.ledger.ConfirmBatch(context.Background(), ledger.ConfirmInput{
		TransactionIDs: []ledger.TransactionID{id},
		Corrections:    []ledger.Correction{{TransactionID: id, Quantity: 25}},
	})

	var stockErr *ledger.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 20, stockErr.Available)
	assert.Equal(t, 25, stockErr.Requested)
	assert.Equal(t, "Branch A", stockErr.LocationName)
	assert.Equal(t, "EUR wooden", stockErr.PalletTypeName)

	tx, _ := env.ledger.Transaction(id)
	assert.Equal(t, ledger.StatusPending, tx.Status)
	assert.Equal(t, 0, env.ledger.Stock(branchA)[euro])
}

func TestConfirmBatch_CorrectionReconcilesSource(t *testing.T) {
	// Property: for any received quantity r <= available, the source ends
	// at (before - r) and the destination at r.
	for _, received := range []int{1, 5, 12, 20, 30} {
		env := newTestLedger(t)
		env.seed(t, ledger.Stock{branchA: {euro: 30}})
		batch := dispatch(t, env, item(euro, 12))
		id := batch.Transactions[0].ID

		err := env.ledger.ConfirmBatch(context.Background(), ledger.ConfirmInput{
			TransactionIDs: []ledger.TransactionID{id},
			Corrections:    []ledger.Correction{{TransactionID: id, Quantity: received}},
		})
		require.NoError(t, err, "received %d", received)
		assert.Equal(t, 30-received, env.ledger.Stock(branchA)[euro], "received %d", received)
		assert.Equal(t, received, env.ledger.Stock(branchB)[euro], "received %d", received)
	}
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func TestConfirmBatch_IdempotentOnTerminalTransactions(t *testing.T) {
	env := newTestLedger(t)
	ctx := context.Background()
	env.seed(t, ledger.Stock{branchA: {euro: 10}})
	batch := dispatch(t, env, item(euro, 10))
	id := batch.Transactions[0].ID

	require.NoError(t, env.ledger.ConfirmSingle(ctx, id, "receiver-b"))
	writes := env.gateway.Writes()
	before := env.ledger.StockSnapshot()

	// WHEN: the same confirmation arrives twice more
	require.NoError(t, env.ledger.ConfirmSingle(ctx, id, "receiver-b"))
	require.NoError(t, env.ledger.ConfirmBatch(ctx, ledger.ConfirmInput{TransactionIDs: []ledger.TransactionID{id}}))

	// THEN: nothing changes and nothing is written
	assert.Equal(t, writes, env.gateway.Writes())
	assert.True(t, before.Equal(env.ledger.StockSnapshot()))
	assert.Equal(t, 10, env.ledger.Stock(branchB)[euro])
}

func TestConfirmBatch_UnknownTransaction(t *testing.T) {
	env := newTestLedger(t)

	err := env.ledger.ConfirmSingle(context.Background(), "missing", "receiver-b")

	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "transaction", nf.Kind)
	assert.True(t, ledger.IsNotFound(err))
}

func TestConfirmBatch_RequiresTransactions(t *testing.T) {
	env := newTestLedger(t)

	err := env.ledger.ConfirmBatch(context.Background(), ledger.ConfirmInput{})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestConfirmDocument_ConfirmsEveryPendingRecord(t *testing.T) {
	env := newTestLedger(t)
	env.seed(t, ledger.Stock{branchA: {euro: 10, generic: 5}})
	batch := dispatch(t, env, item(euro, 4), item(generic, 5))

	require.NoError(t, env.ledger.ConfirmDocument(context.Background(), batch.DocumentNumber, nil, "receiver-b"))

	for _, tx := range env.ledger.Batch(batch.DocumentNumber) {
		assert.Equal(t, ledger.StatusCompleted, tx.Status)
	}
	assert.Equal(t, 4, env.ledger.Stock(branchB)[euro])
	assert.Equal(t, 5, env.ledger.Stock(branchB)[generic])
}

func TestConfirmDocument_UnknownDocument(t *testing.T) {
	env := newTestLedger(t)

	err := env.ledger.ConfirmDocument(context.Background(), "OUT-20260310-9999", nil, "receiver-b")

	var nf *ledger.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "document", nf.Kind)
	assert.True(t, ledger.IsNotFound(err))
}

func TestConfirmDocument_CompletedDocumentIsNoOp(t *testing.T) {
	env := newTestLedger(t)
	env.seed(t, ledger.Stock{branchA: {euro: 10}})
	batch := dispatch(t, env, item(euro, 4))
	ctx := context.Background()
	require.NoError(t, env.ledger.ConfirmDocument(ctx, batch.DocumentNumber, nil, "receiver-b"))

	require.NoError(t, env.ledger.ConfirmDocument(ctx, batch.DocumentNumber, nil, "receiver-b"))

	assert.Equal(t, 4, env.ledger.Stock(branchB)[euro])
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestCancelTransaction_PendingRefundsSource(t *testing.T) {
	env := newTestLedger(t)
	ctx := context.Background()
	env.seed(t, ledger.Stock{branchA: {euro: 10}})
	batch := dispatch(t, env, item(euro, 6))
	id := batch.Transactions[0].ID

	require.NoError(t, env.ledger.CancelTransaction(ctx, id, "dispatcher"))

	assert.Equal(t, 10, env.ledger.Stock(branchA)[euro])
	assert.Equal(t, 0, env.ledger.Stock(branchB)[euro])
	tx, _ := env.ledger.Transaction(id)
	assert.Equal(t, ledger.StatusCancelled, tx.Status)
	assert.Empty(t, env.ledger.PendingFor(branchB))

	// Confirming a cancelled record is a no-op.
	require.NoError(t, env.ledger.ConfirmSingle(ctx, id, "receiver-b"))
	tx, _ = env.ledger.Transaction(id)
	assert.Equal(t, ledger.StatusCancelled, tx.Status)
}

func TestCancelTransaction_CompletedReversesBothEnds(t *testing.T) {
	env := newTestLedger(t)
	ctx := context.Background()
	env.seed(t, ledger.Stock{branchA: {euro: 10}})
	batch := dispatch(t, env, item(euro, 6))
	id := batch.Transactions[0].ID
	require.NoError(t, env.ledger.ConfirmSingle(ctx, id, "receiver-b"))

	require.NoError(t, env.ledger.CancelTransaction(ctx, id, "dispatcher"))
	writes := env.gateway.Writes()
	require.NoError(t, env.ledger.CancelTransaction(ctx, id, "dispatcher"))

	assert.Equal(t, 10, env.ledger.Stock(branchA)[euro])
	assert.Equal(t, 0, env.ledger.Stock(branchB)[euro])
	assert.Equal(t, writes, env.gateway.Writes(), "second cancel must not write")
	assert.Len(t, env.ledger.Transactions(), 2, "history is never deleted")
	assert.Empty(t, env.ledger.Drift())
}
