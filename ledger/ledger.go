/*
ledger.go - The Ledger service: snapshot view, write loop and reads

PURPOSE:

	The Ledger is the root orchestrator. It owns the in-memory view of
	stock and history, exposes every engine operation, and is the ONLY
	component that writes to the Persistence Gateway.

WRITE LOOP:

	Every mutating operation goes through commit():
	1. Acquire the writer lock (single writer per process or cluster)
	2. Load a fresh snapshot from the gateway
	3. Apply the operation to a deep copy
	4. WriteSnapshot(stock + transactions, base version)
	5. On ErrVersionConflict: go back to 2, up to MaxWriteAttempts
	Validation errors from step 3 abort immediately with nothing written.

VIEW UPDATES:

	The in-memory view is replaced wholesale by subscription pushes. A
	failed write leaves it exactly as the last push delivered it.

INVARIANTS:
  - Stock and transactions are always written together
  - Transactions are never deleted, only status-transitioned
  - A normal movement never drives a stock-holding source below zero

SEE ALSO:
  - movement.go, confirm.go, adjust.go, maintenance.go: The engines
  - gateway.go: Collaborator interfaces
*/
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Rules is the configurable behaviour loaded with the catalog.
type Rules struct {
	AutoFlow   AutoFlowRules   `json:"autoFlow"`
	Redispatch RedispatchRules `json:"redispatch"`
	Signs      SignRules       `json:"signRules"`
}

type Options struct {
	Rules    Rules
	Counter  Counter
	Lock     WriterLock
	Notifier Notifier
	Observer Observer
	Logger   zerolog.Logger
	Clock    func() time.Time

	// MinReasonLength is the shortest accepted adjustment reason. Default 10.
	MinReasonLength int
	// MaxWriteAttempts bounds compare-and-swap retries. Default 5.
	MaxWriteAttempts int
	// MaxCascadeDepth bounds recursive redispatch. Default 3.
	MaxCascadeDepth int
	// SkipReconciliationAudit disables the audit entry emitted by ReconcileStock.
	SkipReconciliationAudit bool
	// DefaultChannel receives notifications for locations without their own channel.
	DefaultChannel string
	// NotifyTimeout bounds each best-effort notification. Default 5s.
	NotifyTimeout time.Duration
	// DocumentTimezone sets the day boundary for document numbers. Default UTC.
	DocumentTimezone *time.Location
}

func (o Options) withDefaults() Options {
	if o.Counter == nil {
		o.Counter = NewMemoryCounter()
	}
	if o.Lock == nil {
		o.Lock = &MutexLock{}
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.MinReasonLength <= 0 {
		o.MinReasonLength = 10
	}
	if o.MaxWriteAttempts <= 0 {
		o.MaxWriteAttempts = 5
	}
	if o.MaxCascadeDepth <= 0 {
		o.MaxCascadeDepth = 3
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 5 * time.Second
	}
	return o
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the explicit service object. Construct once, inject everywhere.
type Ledger struct {
	gateway Gateway
	catalog Catalog
	opts    Options
	docs    DocumentNumbers
	log     zerolog.Logger

	mu           sync.RWMutex
	stock        Stock
	transactions []Transaction
	stockPushed  bool
	txsPushed    bool
	unsubscribe  []func()
}

func New(gateway Gateway, catalog Catalog, opts Options) *Ledger {
	opts = opts.withDefaults()
	return &Ledger{
		gateway: gateway,
		catalog: catalog,
		opts:    opts,
		docs:    DocumentNumbers{Counter: opts.Counter, Location: opts.DocumentTimezone},
		log:     opts.Logger.With().Str("component", "ledger").Logger(),
		stock:   Stock{},
	}
}

// Start subscribes to the gateway and seeds the view with ReadOnce.
// A push that arrives while seeding wins over the seed.
func (l *Ledger) Start(ctx context.Context) error {
	l.unsubscribe = append(l.unsubscribe,
		l.gateway.SubscribeStock(func(s Stock) {
			l.mu.Lock()
			l.stock, l.stockPushed = s, true
			l.mu.Unlock()
		}),
		l.gateway.SubscribeTransactions(func(txs []Transaction) {
			l.mu.Lock()
			l.transactions, l.txsPushed = txs, true
			l.mu.Unlock()
		}),
	)

	var stock Stock
	if err := l.readOnce(ctx, PathStock, &stock); err != nil {
		return err
	}
	var txs []Transaction
	if err := l.readOnce(ctx, PathTransactions, &txs); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.stockPushed && stock != nil {
		l.stock = stock
	}
	if !l.txsPushed {
		l.transactions = txs
	}
	l.log.Info().Int("transactions", len(l.transactions)).Int("locations", len(l.stock)).Msg("ledger seeded")
	return nil
}

func (l *Ledger) readOnce(ctx context.Context, path string, into any) error {
	raw, err := l.gateway.ReadOnce(ctx, path)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("seed %s: decode: %w", path, err)
	}
	return nil
}

// Close drops the gateway subscriptions.
func (l *Ledger) Close() {
	for _, fn := range l.unsubscribe {
		fn()
	}
	l.unsubscribe = nil
}

// Catalog exposes the read-only catalog the ledger was built with.
func (l *Ledger) Catalog() Catalog { return l.catalog }

// =============================================================================
// WRITE LOOP
// =============================================================================

// commit runs apply against fresh snapshots until a write succeeds.
// apply reports whether it changed anything; false skips the write.
func (l *Ledger) commit(ctx context.Context, op string, apply func(next *Snapshot) (bool, error)) (Snapshot, error) {
	release, err := l.opts.Lock.Acquire(ctx, "ledger")
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	defer release()

	var lastErr error
	for attempt := 1; attempt <= l.opts.MaxWriteAttempts; attempt++ {
		current, err := l.gateway.Load(ctx)
		if err != nil {
			perr := &PersistenceError{Op: op, Attempts: attempt, Err: err}
			l.opts.Observer.ObserveWrite(op, attempt, perr)
			return Snapshot{}, perr
		}

		next := current.Clone()
		changed, err := apply(&next)
		if err != nil {
			return Snapshot{}, err
		}
		if !changed {
			return current, nil
		}

		version, err := l.gateway.WriteSnapshot(ctx, next)
		if err == nil {
			next.Version = version
			l.opts.Observer.ObserveWrite(op, attempt, nil)
			return next, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			perr := &PersistenceError{Op: op, Attempts: attempt, Err: err}
			l.opts.Observer.ObserveWrite(op, attempt, perr)
			return Snapshot{}, perr
		}
		l.log.Warn().Str("op", op).Int("attempt", attempt).Int64("base_version", current.Version).Msg("snapshot version conflict, retrying")
		lastErr = err
	}

	perr := &PersistenceError{
		Op:       op,
		Attempts: l.opts.MaxWriteAttempts,
		Err:      fmt.Errorf("%w: %v", ErrConcurrentModification, lastErr),
	}
	l.opts.Observer.ObserveWrite(op, l.opts.MaxWriteAttempts, perr)
	return Snapshot{}, perr
}

func (l *Ledger) now() time.Time { return l.opts.Clock().UTC() }

func newTransactionID() TransactionID {
	id, err := uuid.NewV7()
	if err != nil {
		return TransactionID(uuid.NewString())
	}
	return TransactionID(id.String())
}

// =============================================================================
// LOCATION CLASSIFICATION
// =============================================================================

func (l *Ledger) isInternal(id LocationID) bool {
	_, ok := l.catalog.Location(id)
	return ok
}

// holdsStock is true for catalog locations and the maintenance pseudo-locations.
func (l *Ledger) holdsStock(id LocationID) bool {
	return IsStockHolding(id) || l.isInternal(id)
}

// =============================================================================
// READS - Served from the subscribed view
// =============================================================================

// Stock returns a copy of one location's stock.
func (l *Ledger) Stock(loc LocationID) map[PalletTypeID]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[PalletTypeID]int, len(l.stock[loc]))
	for pt, q := range l.stock[loc] {
		out[pt] = q
	}
	return out
}

// StockSnapshot returns a deep copy of all stock.
func (l *Ledger) StockSnapshot() Stock {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stock.Clone()
}

// Transactions returns a copy of the full history.
func (l *Ledger) Transactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Transaction, len(l.transactions))
	copy(out, l.transactions)
	return out
}

// Transaction looks one record up by id.
func (l *Ledger) Transaction(id TransactionID) (Transaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, tx := range l.transactions {
		if tx.ID == id {
			return tx, true
		}
	}
	return Transaction{}, false
}

// Batch returns every transaction carrying the document number.
func (l *Ledger) Batch(doc string) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return byDocument(l.transactions, doc)
}

// PendingFor lists transactions in transit towards a location.
func (l *Ledger) PendingFor(loc LocationID) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Transaction
	for _, tx := range l.transactions {
		if tx.Status == StatusPending && tx.Destination == loc {
			out = append(out, tx)
		}
	}
	return out
}

// BalanceOf derives what is owed between the ledger and a partner for one pallet type.
func (l *Ledger) BalanceOf(partner LocationID, pt PalletTypeID) (int, error) {
	conv, err := l.conventionsFor(partner, pt)
	if err != nil {
		return 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return PartnerBalance(l.transactions, conv, pt), nil
}

func (l *Ledger) conventionsFor(partner LocationID, pt PalletTypeID) (Conventions, error) {
	var role PartnerRole
	if p, ok := l.catalog.Partner(partner); ok {
		role = p.Role
	}
	conv, ok := ResolveConventions(partner, role, pt, l.opts.Rules.Signs)
	if !ok {
		return Conventions{}, &NotFoundError{Kind: "partner", ID: string(partner)}
	}
	return conv, nil
}

// DriftEntry is a mismatch between live stock and the history-derived value.
type DriftEntry struct {
	Location   LocationID   `json:"location"`
	PalletType PalletTypeID `json:"palletType"`
	Live       int          `json:"live"`
	Calculated int          `json:"calculated"`
}

// Drift compares live stock with StockFromHistory, sorted by location then type.
func (l *Ledger) Drift() []DriftEntry {
	l.mu.RLock()
	live := l.stock.Clone()
	calculated := StockFromHistory(l.transactions, l.holdsStock)
	l.mu.RUnlock()

	seen := make(map[stockKey]bool)
	var out []DriftEntry
	check := func(loc LocationID, pt PalletTypeID) {
		k := stockKey{loc, pt}
		if seen[k] {
			return
		}
		seen[k] = true
		if a, b := live.Get(loc, pt), calculated.Get(loc, pt); a != b {
			out = append(out, DriftEntry{Location: loc, PalletType: pt, Live: a, Calculated: b})
		}
	}
	for loc, row := range live {
		for pt := range row {
			check(loc, pt)
		}
	}
	for loc, row := range calculated {
		for pt := range row {
			check(loc, pt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Location != out[j].Location {
			return out[i].Location < out[j].Location
		}
		return out[i].PalletType < out[j].PalletType
	})
	return out
}

// =============================================================================
// NOTIFICATIONS - Best effort
// =============================================================================

// notify sends message to the channels of the given locations. Errors are
// logged and counted, never returned to the caller.
func (l *Ledger) notify(ctx context.Context, message string, locations ...LocationID) {
	if l.opts.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.NotifyTimeout)
	defer cancel()

	for _, channel := range l.channelsFor(locations) {
		err := l.opts.Notifier.Notify(ctx, channel, message)
		l.opts.Observer.ObserveNotification(channel, err)
		if err != nil {
			l.log.Warn().Err(err).Str("channel", channel).Msg("notification failed")
		}
	}
}

func (l *Ledger) channelsFor(locations []LocationID) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range locations {
		channel := l.opts.DefaultChannel
		if loc, ok := l.catalog.Location(id); ok && loc.Channel != "" {
			channel = loc.Channel
		}
		if channel == "" || seen[channel] {
			continue
		}
		seen[channel] = true
		out = append(out, channel)
	}
	return out
}

func (l *Ledger) displayName(id LocationID) string {
	if loc, ok := l.catalog.Location(id); ok && loc.Name != "" {
		return loc.Name
	}
	if p, ok := l.catalog.Partner(id); ok && p.Name != "" {
		return p.Name
	}
	return string(id)
}

func (l *Ledger) palletName(id PalletTypeID) string {
	if pt, ok := l.catalog.PalletType(id); ok && pt.Name != "" {
		return pt.Name
	}
	return string(id)
}

func (l *Ledger) summarize(batch Batch) string {
	if len(batch.Transactions) == 0 {
		return batch.DocumentNumber
	}
	first := batch.Transactions[0]
	items := make([]string, 0, len(batch.Transactions))
	for _, tx := range batch.Transactions {
		items = append(items, fmt.Sprintf("%d x %s", tx.Quantity, l.palletName(tx.PalletType)))
	}
	return fmt.Sprintf("%s %s: %s from %s to %s (%s)",
		first.Category, batch.DocumentNumber, strings.Join(items, ", "),
		l.displayName(first.Source), l.displayName(first.Destination), batch.Status)
}
