/*
confirm.go - Confirmation & Reversal Engine

PURPOSE:

	Completes pending internal movements on receipt, optionally correcting
	what actually arrived, and cancels transactions by reversing their
	stock effect.

CORRECTIONS:

	The source was debited at dispatch using the declared values. If the
	receiver counts something else, the source gets the DELTA:
	  refund declared (type, qty), deduct received (type', qty')
	and the destination is credited with (type', qty'). The declared values
	are kept in OriginalPalletType / OriginalQuantity.

	Example: A=50, dispatch 20 -> A=30. Receive 18 -> A=32, B=+18.

IDEMPOTENCY:

	Confirming a COMPLETED or CANCELLED transaction, or cancelling a
	CANCELLED one, changes nothing and returns nil. UI retries and
	double-taps are safe.
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Correction is what the receiver actually counted for one transaction.
type Correction struct {
	TransactionID TransactionID
	PalletType    PalletTypeID // empty keeps the declared type
	Quantity      int          // zero keeps the declared quantity
}

type ConfirmInput struct {
	TransactionIDs []TransactionID
	Corrections    []Correction
	// ReceivedAt overrides the clock; zero means now.
	ReceivedAt time.Time
	Actor      string
}

// ConfirmBatch completes every pending transaction in the input.
func (l *Ledger) ConfirmBatch(ctx context.Context, in ConfirmInput) error {
	if len(in.TransactionIDs) == 0 {
		return invalid("transactionIds", "at least one transaction is required")
	}
	corrections := make(map[TransactionID]Correction, len(in.Corrections))
	for i, c := range in.Corrections {
		if c.Quantity < 0 {
			return invalid(fmt.Sprintf("corrections[%d].quantity", i), "must not be negative, got %d", c.Quantity)
		}
		if c.PalletType != "" {
			if _, ok := l.catalog.PalletType(c.PalletType); !ok {
				return invalid(fmt.Sprintf("corrections[%d].palletType", i), "unknown pallet type %q", c.PalletType)
			}
		}
		corrections[c.TransactionID] = c
	}
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = l.now()
	}

	var confirmed []Transaction
	_, err := l.commit(ctx, "confirm_batch", func(next *Snapshot) (bool, error) {
		confirmed = confirmed[:0]
		for _, id := range in.TransactionIDs {
			i := next.indexOf(id)
			if i < 0 {
				return false, &NotFoundError{Kind: "transaction", ID: string(id)}
			}
			tx := next.Transactions[i]
			if tx.Status != StatusPending {
				continue
			}
			if c, ok := corrections[id]; ok {
				var err error
				if tx, err = l.applyCorrection(next.Stock, tx, c); err != nil {
					return false, err
				}
			}
			if l.holdsStock(tx.Destination) {
				next.Stock.Add(tx.Destination, tx.PalletType, tx.Quantity)
			}
			at := receivedAt
			tx.Status = StatusCompleted
			tx.ReceivedAt = &at
			next.Transactions[i] = tx
			confirmed = append(confirmed, tx)
		}
		return len(confirmed) > 0, nil
	})
	if err != nil {
		return err
	}

	for _, tx := range confirmed {
		evt := l.log.Info().Str("transaction", string(tx.ID)).Str("document", tx.DocumentNumber).Str("actor", in.Actor)
		if tx.OriginalQuantity != nil {
			evt = evt.Int("original_quantity", *tx.OriginalQuantity).Int("received_quantity", tx.Quantity)
		}
		evt.Msg("transaction confirmed")
	}
	return nil
}

// applyCorrection rewrites tx with the received values and moves the
// difference at the source. The corrected deduction must fit in source stock.
func (l *Ledger) applyCorrection(stock Stock, tx Transaction, c Correction) (Transaction, error) {
	pt, qty := tx.PalletType, tx.Quantity
	if c.PalletType != "" {
		pt = c.PalletType
	}
	if c.Quantity > 0 {
		qty = c.Quantity
	}
	if pt == tx.PalletType && qty == tx.Quantity {
		return tx, nil
	}

	if l.holdsStock(tx.Source) {
		stock.Add(tx.Source, tx.PalletType, tx.Quantity)
		if available := stock.Get(tx.Source, pt); available < qty {
			return tx, l.shortage(tx.Source, pt, available, qty)
		}
		stock.Add(tx.Source, pt, -qty)
	}

	if tx.OriginalQuantity == nil {
		tx.OriginalPalletType = tx.PalletType
		tx.OriginalQuantity = intPtr(tx.Quantity)
	}
	tx.PalletType, tx.Quantity = pt, qty
	return tx, nil
}

// ConfirmSingle completes one transaction without corrections.
func (l *Ledger) ConfirmSingle(ctx context.Context, id TransactionID, actor string) error {
	return l.ConfirmBatch(ctx, ConfirmInput{TransactionIDs: []TransactionID{id}, Actor: actor})
}

// ConfirmDocument completes every pending transaction of a document. A
// document whose transactions are all terminal is a no-op.
func (l *Ledger) ConfirmDocument(ctx context.Context, doc string, corrections []Correction, actor string) error {
	txs := l.Batch(doc)
	if len(txs) == 0 {
		return &NotFoundError{Kind: "document", ID: doc}
	}
	var ids []TransactionID
	for _, tx := range txs {
		if tx.Status == StatusPending {
			ids = append(ids, tx.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return l.ConfirmBatch(ctx, ConfirmInput{TransactionIDs: ids, Corrections: corrections, Actor: actor})
}

// =============================================================================
// CANCELLATION
// =============================================================================

// CancelTransaction reverses a transaction's stock effect. Not reversible.
func (l *Ledger) CancelTransaction(ctx context.Context, id TransactionID, actor string) error {
	var cancelled *Transaction
	_, err := l.commit(ctx, "cancel_transaction", func(next *Snapshot) (bool, error) {
		cancelled = nil
		i := next.indexOf(id)
		if i < 0 {
			return false, &NotFoundError{Kind: "transaction", ID: string(id)}
		}
		tx := next.Transactions[i]
		if tx.Status == StatusCancelled {
			return false, nil
		}
		if l.holdsStock(tx.Source) {
			next.Stock.Add(tx.Source, tx.PalletType, tx.Quantity)
		}
		if tx.Status == StatusCompleted && l.holdsStock(tx.Destination) {
			next.Stock.Add(tx.Destination, tx.PalletType, -tx.Quantity)
		}
		tx.Status = StatusCancelled
		next.Transactions[i] = tx
		cancelled = &tx
		return true, nil
	})
	if err != nil {
		return err
	}
	if cancelled != nil {
		l.log.Info().Str("transaction", string(id)).Str("document", cancelled.DocumentNumber).Str("actor", actor).Msg("transaction cancelled")
	}
	return nil
}
