/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:

	Defines the JSON structures for API communication. Request types carry
	go-playground/validator tags; handlers validate them before anything
	reaches the ledger, so malformed bodies never cost a snapshot load.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO:     Response types returned to clients

TYPES:

	Movements:   MovementRequest, ItemRequest, TransportRequest
	Receipts:    ConfirmBatchRequest, CorrectionRequest, ScanRequest
	Admin:       AdjustmentRequest, ReconcileRequest
	Maintenance: MaintenanceRequest, ConversionRequest, ScrapSaleRequest
	Reads:       StockDTO, BalanceDTO, DriftDTO
	Scenarios:   ScenarioDTO, LoadScenarioRequest

Transactions and batches are returned as ledger.Transaction / ledger.Batch,
which already carry JSON tags.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/pallet-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type ItemRequest struct {
	PalletType string `json:"palletType" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
}

type TransportRequest struct {
	Carrier string `json:"carrier"`
	Driver  string `json:"driver"`
	Plate   string `json:"plate"`
}

// MovementRequest is the body of POST /api/movements.
type MovementRequest struct {
	Category          string            `json:"category" validate:"required,oneof=IN OUT MAINTENANCE ADJUST"`
	Source            string            `json:"source" validate:"required"`
	Destination       string            `json:"destination" validate:"required,nefield=Source"`
	Items             []ItemRequest     `json:"items" validate:"required,min=1,dive"`
	Note              string            `json:"note" validate:"max=500"`
	Transport         *TransportRequest `json:"transport"`
	ReferenceDocument string            `json:"referenceDocument"`
	DocumentNumber    string            `json:"documentNumber"`
	Actor             string            `json:"actor"`
	Timestamp         *time.Time        `json:"timestamp"`
}

type CorrectionRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	PalletType    string `json:"palletType"`
	Quantity      int    `json:"quantity" validate:"gte=0"`
}

// ConfirmBatchRequest confirms transactions by id, or a whole document.
type ConfirmBatchRequest struct {
	TransactionIDs []string            `json:"transactionIds" validate:"required_without=DocumentNumber"`
	DocumentNumber string              `json:"documentNumber"`
	Corrections    []CorrectionRequest `json:"corrections" validate:"dive"`
	ReceivedAt     *time.Time          `json:"receivedAt"`
	Actor          string              `json:"actor"`
}

type ScanRequest struct {
	Payload  string `json:"payload" validate:"required"`
	Location string `json:"location" validate:"required"`
}

type AdjustmentRequest struct {
	Target        string     `json:"target" validate:"required"`
	PalletType    string     `json:"palletType" validate:"required"`
	NewQuantity   int        `json:"newQuantity"`
	Reason        string     `json:"reason"`
	Actor         string     `json:"actor" validate:"required"`
	IsInitial     bool       `json:"isInitial"`
	EffectiveDate *time.Time `json:"effectiveDate"`
}

type ReconcileRequest struct {
	Location        string `json:"location" validate:"required"`
	PalletType      string `json:"palletType" validate:"required"`
	CalculatedStock int    `json:"calculatedStock" validate:"gte=0"`
	Actor           string `json:"actor" validate:"required"`
}

type MaintenanceRequest struct {
	Branch string        `json:"branch" validate:"required"`
	Items  []ItemRequest `json:"items" validate:"required,min=1,dive"`
	Note   string        `json:"note"`
	Actor  string        `json:"actor"`
}

type ConversionRequest struct {
	Branch           string `json:"branch" validate:"required"`
	DamagedType      string `json:"damagedType" validate:"required"`
	Quantity         int    `json:"quantity" validate:"gt=0"`
	Converted        int    `json:"converted" validate:"gte=0,ltefield=Quantity"`
	TargetPalletType string `json:"targetPalletType" validate:"required_unless=Converted 0"`
	Note             string `json:"note"`
	Actor            string `json:"actor"`
}

type ScrapSaleRequest struct {
	PalletType string          `json:"palletType" validate:"required"`
	Quantity   int             `json:"quantity" validate:"gt=0"`
	Buyer      string          `json:"buyer" validate:"required"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Actor      string          `json:"actor"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// StockDTO is one location's stock by pallet type.
type StockDTO struct {
	Location string                      `json:"location"`
	Name     string                      `json:"name,omitempty"`
	Stock    map[ledger.PalletTypeID]int `json:"stock"`
	Total    int                         `json:"total"`
}

// BalanceDTO is a partner balance for one pallet type. The sign follows the
// partner's role: pallets a provider lent us, or pallets a customer holds of ours.
type BalanceDTO struct {
	Partner    string `json:"partner"`
	Role       string `json:"role"`
	PalletType string `json:"palletType"`
	Balance    int    `json:"balance"`
}

type DriftDTO struct {
	Entries []ledger.DriftEntry `json:"entries"`
	Clean   bool                `json:"clean"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toItems(in []ItemRequest) []ledger.MovementItem {
	out := make([]ledger.MovementItem, len(in))
	for i, it := range in {
		out[i] = ledger.MovementItem{PalletType: ledger.PalletTypeID(it.PalletType), Quantity: it.Quantity}
	}
	return out
}

func toCorrections(in []CorrectionRequest) []ledger.Correction {
	if len(in) == 0 {
		return nil
	}
	out := make([]ledger.Correction, len(in))
	for i, c := range in {
		out[i] = ledger.Correction{
			TransactionID: ledger.TransactionID(c.TransactionID),
			PalletType:    ledger.PalletTypeID(c.PalletType),
			Quantity:      c.Quantity,
		}
	}
	return out
}

func (r MovementRequest) toInput() ledger.MovementInput {
	in := ledger.MovementInput{
		Category:          ledger.Category(r.Category),
		Source:            ledger.LocationID(r.Source),
		Destination:       ledger.LocationID(r.Destination),
		Items:             toItems(r.Items),
		Note:              r.Note,
		ReferenceDocument: r.ReferenceDocument,
		DocumentNumber:    r.DocumentNumber,
		Actor:             r.Actor,
	}
	if r.Transport != nil {
		in.Transport = &ledger.Transport{Carrier: r.Transport.Carrier, Driver: r.Transport.Driver, Plate: r.Transport.Plate}
	}
	if r.Timestamp != nil {
		in.Timestamp = *r.Timestamp
	}
	return in
}

func toStockDTO(loc ledger.LocationID, name string, stock map[ledger.PalletTypeID]int) StockDTO {
	dto := StockDTO{Location: string(loc), Name: name, Stock: stock}
	if dto.Stock == nil {
		dto.Stock = map[ledger.PalletTypeID]int{}
	}
	for _, q := range dto.Stock {
		dto.Total += q
	}
	return dto
}
