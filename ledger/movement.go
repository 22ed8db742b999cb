/*
movement.go - Movement Engine

PURPOSE:

	Validates and records one physical movement of pallets as a batch of
	transactions sharing a document number.

FLOW:
 1. Validate input (items, quantities, endpoints, pallet types)
 2. Determine lifecycle: PENDING when both endpoints are internal,
    COMPLETED otherwise or when an auto-flow rule covers the pair
 3. Check source stock for every pallet type (batch-wide, no partial apply)
 4. Debit source immediately; credit destination only when COMPLETED
 5. Notify (best effort), then run any redispatch cascade

EXAMPLE:

	Branch A holds 50 euro-wood. Dispatch 20 A -> B (both branches):
	  A = 30, B unchanged, one PENDING transaction.
	B confirms on receipt (see confirm.go):
	  B = 20.

SEE ALSO:
  - lifecycle.go: DetermineInitialStatus
  - confirm.go: Second phase of internal movements
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// INPUT
// =============================================================================

type MovementItem struct {
	PalletType PalletTypeID `json:"palletType"`
	Quantity   int          `json:"quantity"`
}

// MovementInput enumerates everything a movement can carry.
type MovementInput struct {
	Category    Category
	Source      LocationID
	Destination LocationID
	Items       []MovementItem

	Note              string
	Transport         *Transport
	ReferenceDocument string
	// DocumentNumber is pre-allocated by the caller; empty means generate one.
	DocumentNumber string
	Actor          string
	// Timestamp overrides the clock; zero means now.
	Timestamp time.Time
}

func (l *Ledger) validateMovement(in MovementInput) error {
	if !in.Category.Valid() {
		return invalid("category", "unknown category %q", in.Category)
	}
	if in.Source == "" {
		return invalid("source", "source location is required")
	}
	if in.Destination == "" {
		return invalid("destination", "destination location is required")
	}
	if in.Source == in.Destination {
		return invalid("destination", "source and destination are both %s", in.Source)
	}
	if len(in.Items) == 0 {
		return invalid("items", "at least one item is required")
	}
	for i, item := range in.Items {
		if item.Quantity <= 0 {
			return invalid(fmt.Sprintf("items[%d].quantity", i), "must be positive, got %d", item.Quantity)
		}
		if item.PalletType == "" {
			return invalid(fmt.Sprintf("items[%d].palletType", i), "pallet type is required")
		}
		if _, ok := l.catalog.PalletType(item.PalletType); !ok {
			return invalid(fmt.Sprintf("items[%d].palletType", i), "unknown pallet type %q", item.PalletType)
		}
		for _, end := range []LocationID{in.Source, in.Destination} {
			if p, ok := l.catalog.Partner(end); ok && !p.Allows(item.PalletType) {
				return invalid(fmt.Sprintf("items[%d].palletType", i), "%s does not exchange %s", p.Name, item.PalletType)
			}
		}
	}
	return nil
}

// checkSufficiency rejects the whole batch if any pallet type is short at source.
func (l *Ledger) checkSufficiency(stock Stock, category Category, source LocationID, items []MovementItem) error {
	if category == CategoryAdjust || !l.holdsStock(source) {
		return nil
	}
	requested := make(map[PalletTypeID]int)
	var order []PalletTypeID
	for _, item := range items {
		if _, seen := requested[item.PalletType]; !seen {
			order = append(order, item.PalletType)
		}
		requested[item.PalletType] += item.Quantity
	}
	for _, pt := range order {
		if available := stock.Get(source, pt); available < requested[pt] {
			return l.shortage(source, pt, available, requested[pt])
		}
	}
	return nil
}

func (l *Ledger) shortage(loc LocationID, pt PalletTypeID, available, requested int) *InsufficientStockError {
	return &InsufficientStockError{
		Location:       loc,
		LocationName:   l.displayName(loc),
		PalletType:     pt,
		PalletTypeName: l.palletName(pt),
		Available:      available,
		Requested:      requested,
	}
}

// =============================================================================
// CREATE MOVEMENT
// =============================================================================

// CreateMovement validates and records a batch.
func (l *Ledger) CreateMovement(ctx context.Context, in MovementInput) (Batch, error) {
	return l.createMovement(ctx, in, 0)
}

func (l *Ledger) createMovement(ctx context.Context, in MovementInput, depth int) (Batch, error) {
	if err := l.validateMovement(in); err != nil {
		return Batch{}, err
	}

	at := in.Timestamp
	if at.IsZero() {
		at = l.now()
	}
	status := DetermineInitialStatus(in.Source, in.Destination, l.catalog, l.opts.Rules.AutoFlow)
	doc := in.DocumentNumber

	var batch Batch
	_, err := l.commit(ctx, "create_movement", func(next *Snapshot) (bool, error) {
		if err := l.checkSufficiency(next.Stock, in.Category, in.Source, in.Items); err != nil {
			return false, err
		}
		if doc == "" {
			var err error
			if doc, err = l.docs.Next(ctx, in.Category, at, next.Transactions); err != nil {
				return false, err
			}
		}

		txs := make([]Transaction, 0, len(in.Items))
		for _, item := range in.Items {
			tx := Transaction{
				ID:                newTransactionID(),
				Timestamp:         at,
				DocumentNumber:    doc,
				Category:          in.Category,
				Status:            status,
				Source:            in.Source,
				Destination:       in.Destination,
				PalletType:        item.PalletType,
				Quantity:          item.Quantity,
				Note:              in.Note,
				Transport:         in.Transport,
				ReferenceDocument: in.ReferenceDocument,
				CreatedBy:         in.Actor,
			}
			if status == StatusCompleted {
				received := at
				tx.ReceivedAt = &received
			}
			l.applyDispatch(next.Stock, tx)
			txs = append(txs, tx)
		}
		next.Transactions = append(next.Transactions, txs...)
		batch = Batch{DocumentNumber: doc, Status: status, Transactions: txs}
		return true, nil
	})
	if err != nil {
		return Batch{}, err
	}

	l.log.Info().
		Str("document", batch.DocumentNumber).
		Str("category", string(in.Category)).
		Str("status", string(status)).
		Str("source", string(in.Source)).
		Str("destination", string(in.Destination)).
		Int("items", len(batch.Transactions)).
		Msg("movement recorded")

	l.notify(ctx, l.summarize(batch), in.Source, in.Destination)
	batch.Cascade = l.redispatch(ctx, in, batch, depth)
	return batch, nil
}

// applyDispatch debits the source and, for completed records, credits the destination.
func (l *Ledger) applyDispatch(stock Stock, tx Transaction) {
	if l.holdsStock(tx.Source) {
		stock.Add(tx.Source, tx.PalletType, -tx.Quantity)
	}
	if tx.Status == StatusCompleted && l.holdsStock(tx.Destination) {
		stock.Add(tx.Destination, tx.PalletType, tx.Quantity)
	}
}

// =============================================================================
// REDISPATCH - Hub pass-through cascade
// =============================================================================

// RedispatchRule forwards pallets a hub receives from a provider to another location.
// An empty PalletTypes list forwards every pallet type.
type RedispatchRule struct {
	Hub         LocationID     `json:"hub"`
	From        LocationID     `json:"from"`
	To          LocationID     `json:"to"`
	PalletTypes []PalletTypeID `json:"palletTypes,omitempty"`
	Note        string         `json:"note,omitempty"`
}

func (r RedispatchRule) covers(pt PalletTypeID) bool {
	if len(r.PalletTypes) == 0 {
		return true
	}
	for _, p := range r.PalletTypes {
		if p == pt {
			return true
		}
	}
	return false
}

type RedispatchRules []RedispatchRule

// Match finds the rule for a completed inbound movement.
func (r RedispatchRules) Match(source, dest LocationID) (RedispatchRule, bool) {
	for _, rule := range r {
		if rule.Hub == dest && rule.From == source {
			return rule, true
		}
	}
	return RedispatchRule{}, false
}

// redispatch creates the secondary outbound batch through the normal
// validation path. A failure is logged; the primary batch is already committed.
func (l *Ledger) redispatch(ctx context.Context, in MovementInput, primary Batch, depth int) *Batch {
	if primary.Status != StatusCompleted || in.Category != CategoryIn {
		return nil
	}
	hub, ok := l.catalog.Location(in.Destination)
	if !ok || hub.Kind != KindHub {
		return nil
	}
	if p, ok := l.catalog.Partner(in.Source); !ok || p.Role != RoleProvider {
		return nil
	}
	rule, ok := l.opts.Rules.Redispatch.Match(in.Source, in.Destination)
	if !ok {
		return nil
	}
	logger := l.log.With().Str("document", primary.DocumentNumber).Str("hub", string(hub.ID)).Logger()
	if depth >= l.opts.MaxCascadeDepth {
		logger.Warn().Int("depth", depth).Msg("redispatch depth limit reached")
		return nil
	}

	var items []MovementItem
	for _, tx := range primary.Transactions {
		if rule.covers(tx.PalletType) {
			items = append(items, MovementItem{PalletType: tx.PalletType, Quantity: tx.Quantity})
		}
	}
	if len(items) == 0 {
		return nil
	}

	at := l.now()
	doc, err := l.docs.Next(ctx, CategoryOut, at, l.Transactions())
	if err != nil {
		logger.Error().Err(err).Msg("redispatch: allocate document number")
		return nil
	}
	note := rule.Note
	if note == "" {
		note = fmt.Sprintf("automatic redispatch of %s", primary.DocumentNumber)
	}
	cascade, err := l.createMovement(ctx, MovementInput{
		Category:          CategoryOut,
		Source:            hub.ID,
		Destination:       rule.To,
		Items:             items,
		Note:              note,
		ReferenceDocument: primary.DocumentNumber,
		DocumentNumber:    doc,
		Actor:             "system:redispatch",
		Timestamp:         at,
	}, depth+1)
	if err != nil {
		logger.Error().Err(err).Str("to", string(rule.To)).Msg("redispatch failed")
		return nil
	}
	return &cascade
}
