/*
maintenance.go - Damaged pallet handling

PURPOSE:

	Damaged pallets leave a branch for the DAMAGED_HOLDING pseudo-location.
	Later a conversion run repairs some of them into a generic pallet type
	and scraps the rest. Scrapped pallets wait in SCRAPYARD until sold.

FLOW:

	SendToMaintenance   branch -> DAMAGED_HOLDING          (MAINTENANCE, COMPLETED)
	ConvertMaintenance  one document, up to three records:
	                    DAMAGED_HOLDING -> CONVERSION      damaged type, converted qty
	                    CONVERSION -> branch               generic type, converted qty
	                    DAMAGED_HOLDING -> SCRAPYARD       damaged type, remainder, [SCRAPPED]
	RecordScrapSale     SCRAPYARD -> buyer                 (OUT, [SCRAP_SALE ...])

	The pseudo-locations hold stock, so every leg is checked for sufficiency
	like a branch would be.

	DAMAGED_HOLDING is one pool shared by all branches, fed to a single
	repair run. A conversion draws from that pool and Branch only names
	where the repaired pallets are delivered. Which branch sent a damaged
	pallet stays visible in the SendToMaintenance records.
*/
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Structured note tags.
const (
	TagScrapped  = "[SCRAPPED]"
	TagScrapSale = "[SCRAP_SALE"
)

type MaintenanceInput struct {
	Branch LocationID
	Items  []MovementItem
	Note   string
	Actor  string
}

// SendToMaintenance moves damaged pallets into the holding area.
func (l *Ledger) SendToMaintenance(ctx context.Context, in MaintenanceInput) (Batch, error) {
	if !l.isInternal(in.Branch) {
		return Batch{}, invalid("branch", "%s is not an internal location", in.Branch)
	}
	return l.CreateMovement(ctx, MovementInput{
		Category:    CategoryMaintenance,
		Source:      in.Branch,
		Destination: DamagedHolding,
		Items:       in.Items,
		Note:        in.Note,
		Actor:       in.Actor,
	})
}

type ConversionInput struct {
	// Branch receives the converted pallets. It need not be the branch that
	// sent them to the shared holding pool.
	Branch           LocationID
	DamagedType      PalletTypeID
	Quantity         int
	Converted        int
	TargetPalletType PalletTypeID
	Note             string
	Actor            string
}

func (in ConversionInput) validate() error {
	switch {
	case in.Quantity <= 0:
		return invalid("quantity", "must be positive, got %d", in.Quantity)
	case in.Converted < 0 || in.Converted > in.Quantity:
		return invalid("converted", "must be between 0 and %d, got %d", in.Quantity, in.Converted)
	case in.Converted > 0 && in.TargetPalletType == "":
		return invalid("targetPalletType", "required when pallets are converted")
	}
	return nil
}

// ConvertMaintenance repairs part of the held pallets and scraps the remainder.
func (l *Ledger) ConvertMaintenance(ctx context.Context, in ConversionInput) (Batch, error) {
	if err := in.validate(); err != nil {
		return Batch{}, err
	}
	if !l.isInternal(in.Branch) {
		return Batch{}, invalid("branch", "%s is not an internal location", in.Branch)
	}
	if _, ok := l.catalog.PalletType(in.DamagedType); !ok {
		return Batch{}, invalid("damagedType", "unknown pallet type %q", in.DamagedType)
	}
	if in.TargetPalletType != "" {
		if _, ok := l.catalog.PalletType(in.TargetPalletType); !ok {
			return Batch{}, invalid("targetPalletType", "unknown pallet type %q", in.TargetPalletType)
		}
	}

	at := l.now()
	scrapped := in.Quantity - in.Converted

	var batch Batch
	_, err := l.commit(ctx, "convert_maintenance", func(next *Snapshot) (bool, error) {
		if available := next.Stock.Get(DamagedHolding, in.DamagedType); available < in.Quantity {
			return false, l.shortage(DamagedHolding, in.DamagedType, available, in.Quantity)
		}
		doc, err := l.docs.Next(ctx, CategoryMaintenance, at, next.Transactions)
		if err != nil {
			return false, err
		}
		leg := func(src, dst LocationID, pt PalletTypeID, qty int, note string) Transaction {
			received := at
			return Transaction{
				ID:             newTransactionID(),
				Timestamp:      at,
				DocumentNumber: doc,
				Category:       CategoryMaintenance,
				Status:         StatusCompleted,
				Source:         src,
				Destination:    dst,
				PalletType:     pt,
				Quantity:       qty,
				Note:           note,
				ReceivedAt:     &received,
				CreatedBy:      in.Actor,
			}
		}

		var txs []Transaction
		if in.Converted > 0 {
			txs = append(txs,
				leg(DamagedHolding, Conversion, in.DamagedType, in.Converted, in.Note),
				leg(Conversion, in.Branch, in.TargetPalletType, in.Converted, in.Note),
			)
		}
		if scrapped > 0 {
			txs = append(txs, leg(DamagedHolding, Scrapyard, in.DamagedType, scrapped, strings.TrimSpace(TagScrapped+" "+in.Note)))
		}
		for _, tx := range txs {
			l.applyDispatch(next.Stock, tx)
		}
		next.Transactions = append(next.Transactions, txs...)
		batch = Batch{DocumentNumber: doc, Status: StatusCompleted, Transactions: txs}
		return true, nil
	})
	if err != nil {
		return Batch{}, err
	}

	l.log.Info().
		Str("document", batch.DocumentNumber).
		Str("branch", string(in.Branch)).
		Int("converted", in.Converted).
		Int("scrapped", scrapped).
		Msg("maintenance conversion recorded")
	l.notify(ctx, fmt.Sprintf("MAINTENANCE %s: %d x %s repaired as %s, %d scrapped at %s",
		batch.DocumentNumber, in.Converted, l.palletName(in.DamagedType), l.palletName(in.TargetPalletType),
		scrapped, l.displayName(in.Branch)), in.Branch)
	return batch, nil
}

// IsScrapped reports whether a transaction records scrapped pallets.
func IsScrapped(tx Transaction) bool {
	return strings.HasPrefix(tx.Note, TagScrapped)
}

// =============================================================================
// SCRAP SALE
// =============================================================================

type ScrapSaleInput struct {
	PalletType PalletTypeID
	Quantity   int
	Buyer      string
	UnitPrice  decimal.Decimal
	Actor      string
}

type ScrapSale struct {
	DocumentNumber string          `json:"documentNumber"`
	PalletType     PalletTypeID    `json:"palletType"`
	Quantity       int             `json:"quantity"`
	Buyer          string          `json:"buyer"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	Total          decimal.Decimal `json:"total"`
	Transaction    Transaction     `json:"transaction"`
}

// RecordScrapSale sells scrapped pallets out of the scrapyard.
func (l *Ledger) RecordScrapSale(ctx context.Context, in ScrapSaleInput) (ScrapSale, error) {
	switch {
	case in.Quantity <= 0:
		return ScrapSale{}, invalid("quantity", "must be positive, got %d", in.Quantity)
	case strings.TrimSpace(in.Buyer) == "":
		return ScrapSale{}, invalid("buyer", "buyer is required")
	case in.UnitPrice.IsNegative():
		return ScrapSale{}, invalid("unitPrice", "must not be negative")
	}
	if _, ok := l.catalog.PalletType(in.PalletType); !ok {
		return ScrapSale{}, invalid("palletType", "unknown pallet type %q", in.PalletType)
	}

	total := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity))).Round(2)
	batch, err := l.CreateMovement(ctx, MovementInput{
		Category:    CategoryOut,
		Source:      Scrapyard,
		Destination: LocationID(strings.TrimSpace(in.Buyer)),
		Items:       []MovementItem{{PalletType: in.PalletType, Quantity: in.Quantity}},
		Note:        fmt.Sprintf("%s price=%s total=%s]", TagScrapSale, in.UnitPrice.StringFixed(2), total.StringFixed(2)),
		Actor:       in.Actor,
	})
	if err != nil {
		return ScrapSale{}, err
	}
	return ScrapSale{
		DocumentNumber: batch.DocumentNumber,
		PalletType:     in.PalletType,
		Quantity:       in.Quantity,
		Buyer:          in.Buyer,
		UnitPrice:      in.UnitPrice,
		Total:          total,
		Transaction:    batch.Transactions[0],
	}, nil
}
