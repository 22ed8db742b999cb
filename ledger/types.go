/*
Package ledger provides the pallet stock ledger and movement-reconciliation engine.

PURPOSE:

	Tracks reusable shipping pallets moving between internal locations
	(branches and hubs) and external partners (providers and customers).
	Internal locations own a stock map. Partners only have a balance that is
	derived from the transaction history.

KEY CONCEPTS IN THIS FILE (types.go):
  - Stock: location -> pallet type -> signed quantity
  - Transaction: one pallet type's movement inside a batch
  - Batch: all transactions sharing one document number
  - Snapshot: stock + full history + version, written as one unit

DESIGN PRINCIPLES:
 1. History is the system of record: transactions are status-transitioned, never deleted
 2. One combined write: stock and transactions always travel together
 3. Explicit service: a *Ledger is constructed and injected, never global

USAGE:

	l := ledger.New(gateway, catalog, ledger.Options{})
	batch, err := l.CreateMovement(ctx, ledger.MovementInput{
	    Category:    ledger.CategoryOut,
	    Source:      "branch-north",
	    Destination: "branch-south",
	    Items:       []ledger.MovementItem{{PalletType: "euro-wood", Quantity: 20}},
	})

SEE ALSO:
  - ledger.go: Service object and write loop
  - balance.go: Partner balance calculation
  - gateway.go: Persistence, catalog and notification interfaces
*/
package ledger

import (
	"sort"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type LocationID string
type PalletTypeID string
type TransactionID string

// Reserved pseudo-locations. They are never catalog entries.
const (
	// AdjustmentSentinel is the counterpart endpoint of every ADJUST transaction.
	AdjustmentSentinel LocationID = "SYSTEM_ADJUSTMENT"

	// DamagedHolding holds pallets waiting for maintenance. It carries stock.
	DamagedHolding LocationID = "DAMAGED_HOLDING"

	// Conversion is the pass-through point where damaged pallets become the generic type.
	Conversion LocationID = "MAINTENANCE_CONVERSION"

	// Scrapyard holds scrapped pallets until they are sold. It carries stock.
	Scrapyard LocationID = "SCRAPYARD"
)

// IsStockHolding reports whether a pseudo-location carries stock of its own.
func IsStockHolding(id LocationID) bool {
	return id == DamagedHolding || id == Scrapyard
}

// =============================================================================
// CATEGORY & STATUS
// =============================================================================

type Category string

const (
	CategoryIn          Category = "IN"
	CategoryOut         Category = "OUT"
	CategoryMaintenance Category = "MAINTENANCE"
	CategoryAdjust      Category = "ADJUST"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryIn, CategoryOut, CategoryMaintenance, CategoryAdjust:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further confirmation is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// =============================================================================
// STOCK
// =============================================================================

// Stock maps internal locations to per-pallet-type quantities.
type Stock map[LocationID]map[PalletTypeID]int

// Get returns the quantity, zero when absent.
func (s Stock) Get(loc LocationID, pt PalletTypeID) int {
	return s[loc][pt]
}

// Add applies a signed delta.
func (s Stock) Add(loc LocationID, pt PalletTypeID, delta int) {
	if delta == 0 {
		return
	}
	s.Set(loc, pt, s.Get(loc, pt)+delta)
}

// Set force-sets a quantity.
func (s Stock) Set(loc LocationID, pt PalletTypeID, qty int) {
	row, ok := s[loc]
	if !ok {
		row = make(map[PalletTypeID]int)
		s[loc] = row
	}
	row[pt] = qty
}

// Clone returns a deep copy so engines never mutate the shared view.
func (s Stock) Clone() Stock {
	out := make(Stock, len(s))
	for loc, row := range s {
		cp := make(map[PalletTypeID]int, len(row))
		for pt, q := range row {
			cp[pt] = q
		}
		out[loc] = cp
	}
	return out
}

// Equal compares two stock maps treating missing entries as zero.
func (s Stock) Equal(other Stock) bool {
	return len(diffStock(s, other)) == 0 && len(diffStock(other, s)) == 0
}

func diffStock(a, b Stock) []stockKey {
	var out []stockKey
	for loc, row := range a {
		for pt, q := range row {
			if b.Get(loc, pt) != q {
				out = append(out, stockKey{loc, pt})
			}
		}
	}
	return out
}

type stockKey struct {
	Location   LocationID
	PalletType PalletTypeID
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Transport is optional carrier metadata attached at dispatch.
type Transport struct {
	Carrier string `json:"carrier,omitempty"`
	Driver  string `json:"driver,omitempty"`
	Plate   string `json:"plate,omitempty"`
}

// Transaction is the atomic record of one pallet type's movement within a batch.
// Optional fields are pointers or omitempty so serialized records never carry nulls.
type Transaction struct {
	ID             TransactionID `json:"id"`
	Timestamp      time.Time     `json:"timestamp"`
	DocumentNumber string        `json:"documentNumber"`
	Category       Category      `json:"category"`
	Status         Status        `json:"status"`
	Source         LocationID    `json:"source"`
	Destination    LocationID    `json:"destination"`
	PalletType     PalletTypeID  `json:"palletType"`
	Quantity       int           `json:"quantity"`
	Note           string        `json:"note,omitempty"`

	Transport         *Transport `json:"transport,omitempty"`
	ReferenceDocument string     `json:"referenceDocument,omitempty"`
	ReceivedAt        *time.Time `json:"receivedAt,omitempty"`
	CreatedBy         string     `json:"createdBy,omitempty"`

	// Receipt correction
	OriginalPalletType PalletTypeID `json:"originalPalletType,omitempty"`
	OriginalQuantity   *int         `json:"originalQuantity,omitempty"`

	// ADJUST audit
	PreviousQuantity *int   `json:"previousQuantity,omitempty"`
	AdjustedBy       string `json:"adjustedBy,omitempty"`
	IsInitial        bool   `json:"isInitial,omitempty"`
	Reconciliation   bool   `json:"reconciliation,omitempty"`
}

// Batch groups the transactions created by one movement.
type Batch struct {
	DocumentNumber string        `json:"documentNumber"`
	Status         Status        `json:"status"`
	Transactions   []Transaction `json:"transactions"`

	// Cascade is the automatic redispatch triggered by this batch, if any.
	Cascade *Batch `json:"cascade,omitempty"`
}

// =============================================================================
// SNAPSHOT - The single shared resource
// =============================================================================

// Snapshot is everything the gateway persists. Version is the value the
// snapshot was read at; WriteSnapshot only succeeds if it is still current.
type Snapshot struct {
	Version      int64         `json:"version"`
	Stock        Stock         `json:"stock"`
	Transactions []Transaction `json:"transactions"`
}

// Clone deep-copies stock and the transaction slice.
func (s Snapshot) Clone() Snapshot {
	txs := make([]Transaction, len(s.Transactions))
	copy(txs, s.Transactions)
	stock := s.Stock.Clone()
	if stock == nil {
		stock = Stock{}
	}
	return Snapshot{Version: s.Version, Stock: stock, Transactions: txs}
}

func (s *Snapshot) indexOf(id TransactionID) int {
	for i := range s.Transactions {
		if s.Transactions[i].ID == id {
			return i
		}
	}
	return -1
}

// byDocument returns transactions sharing a document number, oldest first.
func byDocument(txs []Transaction, doc string) []Transaction {
	var out []Transaction
	for _, tx := range txs {
		if tx.DocumentNumber == doc {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func intPtr(v int) *int { return &v }
