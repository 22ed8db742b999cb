/*
handlers.go - HTTP API handlers for the pallet ledger

PURPOSE:

	Exposes the ledger via a REST API. Handles HTTP request/response, JSON
	serialization and validation, and delegates every decision to the
	ledger.Ledger service object.

ENDPOINTS:

	Reads:
	  GET    /api/locations                   Internal locations with stock
	  GET    /api/locations/{id}/stock        Live stock of one location
	  GET    /api/locations/{id}/pending      Pending receipts for a location
	  GET    /api/partners/{id}/balance       Partner balance (?palletType=)
	  GET    /api/transactions                History (?document=&status=&location=)
	  GET    /api/batches/{doc}               Transactions of one document

	Movements and receipts:
	  POST   /api/movements                   Create a movement batch
	  POST   /api/batches/confirm             Confirm pending transactions
	  POST   /api/transactions/{id}/confirm   Confirm one transaction
	  DELETE /api/transactions/{id}           Cancel a transaction
	  POST   /api/scan                        Resolve a scanned document

	Maintenance:
	  POST   /api/maintenance                 Send damaged pallets to holding
	  POST   /api/maintenance/convert         Repair or scrap held pallets
	  POST   /api/scrap-sales                 Sell scrapped pallets

	Admin:
	  POST   /api/admin/adjustments           Manual stock/balance adjustment
	  POST   /api/admin/reconcile             Align live stock with history
	  GET    /api/admin/drift                 Live vs history-derived stock

ERROR HANDLING:

	Errors are returned as ErrorResponse with a stable code:
	- 400: malformed body, failed validation          (validation_failed)
	- 404: unknown transaction, location, document     (not_found)
	- 409: scan outcome or concurrent modification    (already_completed, ...)
	- 422: insufficient stock, weak adjustment reason (insufficient_stock, ...)
	- 503: persistence or lock unavailable            (unavailable)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/warp/pallet-ledger/catalog"
	"github.com/warp/pallet-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Ledger
	Catalog   *catalog.Catalog
	Scenarios *ScenarioLoader

	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a handler. Scenarios may be attached afterwards.
func NewHandler(l *ledger.Ledger, c *catalog.Catalog, logger zerolog.Logger) *Handler {
	return &Handler{
		Ledger:   l,
		Catalog:  c,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger.With().Str("component", "api").Logger(),
	}
}

// decode reads and validates a JSON body. It writes the error response and
// returns false when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "Invalid request body", err.Error())
		return false
	}
	if err := h.validate.Struct(into); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeError(w, http.StatusBadRequest, "validation_failed", "Request validation failed", fields)
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_failed", "Request validation failed", err.Error())
		return false
	}
	return true
}

// =============================================================================
// READ HANDLERS
// =============================================================================

// ListLocations returns every internal location with its stock.
// GET /api/locations
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locations := h.Catalog.Locations()
	out := make([]StockDTO, 0, len(locations))
	for _, loc := range locations {
		out = append(out, toStockDTO(loc.ID, loc.Name, h.Ledger.Stock(loc.ID)))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetStock returns the live stock of one location, pseudo-locations included.
// GET /api/locations/{id}/stock
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	id := ledger.LocationID(chi.URLParam(r, "id"))
	name := string(id)
	if loc, ok := h.Catalog.Location(id); ok {
		name = loc.Name
	} else if !ledger.IsStockHolding(id) {
		writeError(w, http.StatusNotFound, "not_found", "Unknown location", string(id))
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(id, name, h.Ledger.Stock(id)))
}

// GetPending lists transactions waiting to be received at a location.
// GET /api/locations/{id}/pending
func (h *Handler) GetPending(w http.ResponseWriter, r *http.Request) {
	id := ledger.LocationID(chi.URLParam(r, "id"))
	if _, ok := h.Catalog.Location(id); !ok {
		writeError(w, http.StatusNotFound, "not_found", "Unknown location", string(id))
		return
	}
	pending := h.Ledger.PendingFor(id)
	if pending == nil {
		pending = []ledger.Transaction{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// GetBalance returns a partner's balance for one pallet type, or for every
// type the partner may exchange when palletType is omitted.
// GET /api/partners/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.LocationID(chi.URLParam(r, "id"))
	partner, ok := h.Catalog.Partner(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Unknown partner", string(id))
		return
	}

	var types []ledger.PalletTypeID
	if pt := r.URL.Query().Get("palletType"); pt != "" {
		types = []ledger.PalletTypeID{ledger.PalletTypeID(pt)}
	} else {
		for _, pt := range h.Catalog.PalletTypes() {
			if partner.Allows(pt.ID) {
				types = append(types, pt.ID)
			}
		}
	}

	out := make([]BalanceDTO, 0, len(types))
	for _, pt := range types {
		balance, err := h.Ledger.BalanceOf(id, pt)
		if err != nil {
			h.writeLedgerError(w, r, err)
			return
		}
		out = append(out, BalanceDTO{Partner: string(id), Role: string(partner.Role), PalletType: string(pt), Balance: balance})
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTransactions returns history, newest first, with optional filters.
// GET /api/transactions?document=&status=&location=&limit=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doc := q.Get("document")
	status := ledger.Status(strings.ToUpper(q.Get("status")))
	location := ledger.LocationID(q.Get("location"))
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "Invalid limit", v)
			return
		}
		limit = n
	}

	all := h.Ledger.Transactions()
	out := make([]ledger.Transaction, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		tx := all[i]
		if doc != "" && tx.DocumentNumber != doc {
			continue
		}
		if status != "" && tx.Status != status {
			continue
		}
		if location != "" && tx.Source != location && tx.Destination != location {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetBatch returns every transaction sharing a document number.
// GET /api/batches/{doc}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	doc := chi.URLParam(r, "doc")
	txs := h.Ledger.Batch(doc)
	if len(txs) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "Unknown document", doc)
		return
	}
	writeJSON(w, http.StatusOK, ledger.Batch{DocumentNumber: doc, Status: batchStatus(txs), Transactions: txs})
}

func batchStatus(txs []ledger.Transaction) ledger.Status {
	status := txs[0].Status
	for _, tx := range txs[1:] {
		if tx.Status == ledger.StatusPending {
			return ledger.StatusPending
		}
	}
	return status
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// CreateMovement records a movement batch.
// POST /api/movements
func (h *Handler) CreateMovement(w http.ResponseWriter, r *http.Request) {
	var req MovementRequest
	if !h.decode(w, r, &req) {
		return
	}
	batch, err := h.Ledger.CreateMovement(r.Context(), req.toInput())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

// ConfirmBatch confirms pending transactions, optionally with corrections.
// POST /api/batches/confirm
func (h *Handler) ConfirmBatch(w http.ResponseWriter, r *http.Request) {
	var req ConfirmBatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	var err error
	if len(req.TransactionIDs) == 0 {
		err = h.Ledger.ConfirmDocument(r.Context(), req.DocumentNumber, toCorrections(req.Corrections), req.Actor)
	} else {
		in := ledger.ConfirmInput{Corrections: toCorrections(req.Corrections), Actor: req.Actor}
		for _, id := range req.TransactionIDs {
			in.TransactionIDs = append(in.TransactionIDs, ledger.TransactionID(id))
		}
		if req.ReceivedAt != nil {
			in.ReceivedAt = *req.ReceivedAt
		}
		err = h.Ledger.ConfirmBatch(r.Context(), in)
	}
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmTransaction confirms a single pending transaction as declared.
// POST /api/transactions/{id}/confirm
func (h *Handler) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	if err := h.Ledger.ConfirmSingle(r.Context(), id, actorFrom(r)); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	tx, _ := h.Ledger.Transaction(id)
	writeJSON(w, http.StatusOK, tx)
}

// CancelTransaction cancels a transaction and reverses its stock effect.
// DELETE /api/transactions/{id}
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	if err := h.Ledger.CancelTransaction(r.Context(), id, actorFrom(r)); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	tx, _ := h.Ledger.Transaction(id)
	writeJSON(w, http.StatusOK, tx)
}

// Scan resolves a decoded QR/barcode payload for the receiving location.
// POST /api/scan
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.Ledger.ResolveScan(r.Context(), req.Payload, ledger.LocationID(req.Location))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// MAINTENANCE HANDLERS
// =============================================================================

// SendToMaintenance moves damaged pallets from a branch to holding.
// POST /api/maintenance
func (h *Handler) SendToMaintenance(w http.ResponseWriter, r *http.Request) {
	var req MaintenanceRequest
	if !h.decode(w, r, &req) {
		return
	}
	batch, err := h.Ledger.SendToMaintenance(r.Context(), ledger.MaintenanceInput{
		Branch: ledger.LocationID(req.Branch),
		Items:  toItems(req.Items),
		Note:   req.Note,
		Actor:  req.Actor,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

// ConvertMaintenance repairs part of the held pallets and scraps the rest.
// POST /api/maintenance/convert
func (h *Handler) ConvertMaintenance(w http.ResponseWriter, r *http.Request) {
	var req ConversionRequest
	if !h.decode(w, r, &req) {
		return
	}
	batch, err := h.Ledger.ConvertMaintenance(r.Context(), ledger.ConversionInput{
		Branch:           ledger.LocationID(req.Branch),
		DamagedType:      ledger.PalletTypeID(req.DamagedType),
		Quantity:         req.Quantity,
		Converted:        req.Converted,
		TargetPalletType: ledger.PalletTypeID(req.TargetPalletType),
		Note:             req.Note,
		Actor:            req.Actor,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

// RecordScrapSale sells scrapped pallets to a buyer.
// POST /api/scrap-sales
func (h *Handler) RecordScrapSale(w http.ResponseWriter, r *http.Request) {
	var req ScrapSaleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UnitPrice.IsNegative() {
		writeError(w, http.StatusBadRequest, "validation_failed", "Request validation failed",
			map[string]string{"UnitPrice": "gte"})
		return
	}
	sale, err := h.Ledger.RecordScrapSale(r.Context(), ledger.ScrapSaleInput{
		PalletType: ledger.PalletTypeID(req.PalletType),
		Quantity:   req.Quantity,
		Buyer:      req.Buyer,
		UnitPrice:  req.UnitPrice,
		Actor:      req.Actor,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment sets a location's stock or a partner's balance.
// POST /api/admin/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.Ledger.AdjustStock(r.Context(), ledger.AdjustInput{
		Target:        ledger.LocationID(req.Target),
		PalletType:    ledger.PalletTypeID(req.PalletType),
		NewQuantity:   req.NewQuantity,
		Reason:        req.Reason,
		Actor:         req.Actor,
		IsInitial:     req.IsInitial,
		EffectiveDate: req.EffectiveDate,
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	if tx == nil {
		// Already at the requested value; nothing recorded.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// Reconcile force-sets live stock to the history-derived value.
// POST /api/admin/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if !h.decode(w, r, &req) {
		return
	}
	loc := ledger.LocationID(req.Location)
	if err := h.Ledger.ReconcileStock(r.Context(), ledger.ReconcileInput{
		Location:        loc,
		PalletType:      ledger.PalletTypeID(req.PalletType),
		CalculatedStock: req.CalculatedStock,
		Actor:           req.Actor,
	}); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(loc, "", h.Ledger.Stock(loc)))
}

// GetDrift lists stock cells where live and history-derived values differ.
// GET /api/admin/drift
func (h *Handler) GetDrift(w http.ResponseWriter, r *http.Request) {
	entries := h.Ledger.Drift()
	if entries == nil {
		entries = []ledger.DriftEntry{}
	}
	writeJSON(w, http.StatusOK, DriftDTO{Entries: entries, Clean: len(entries) == 0})
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"transactions": len(h.Ledger.Transactions()),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// actorFrom reads the acting user from X-Actor, falling back to ?actor=.
func actorFrom(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Actor")); a != "" {
		return a
	}
	return r.URL.Query().Get("actor")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// writeLedgerError maps ledger errors to HTTP status codes.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		scanErr  *ledger.ScanError
		shortErr *ledger.InsufficientStockError
		valErr   *ledger.ValidationError
	)
	switch {
	case errors.As(err, &scanErr):
		status := http.StatusConflict
		if errors.Is(err, ledger.ErrDocumentNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, scanErr.Outcome(), scanErr.Error(), map[string]string{
			"documentNumber": scanErr.DocumentNumber,
			"destination":    string(scanErr.Destination),
		})
	case errors.As(err, &shortErr):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_stock", err.Error(), map[string]any{
			"location":       shortErr.Location,
			"locationName":   shortErr.LocationName,
			"palletType":     shortErr.PalletType,
			"palletTypeName": shortErr.PalletTypeName,
			"available":      shortErr.Available,
			"requested":      shortErr.Requested,
			"shortfall":      shortErr.Shortfall(),
		})
	case errors.Is(err, ledger.ErrInvalidReason):
		writeError(w, http.StatusUnprocessableEntity, "invalid_reason", err.Error(), nil)
	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), map[string]string{valErr.Field: valErr.Message})
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, ledger.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", "Ledger is busy, retry the request", err.Error())
	case errors.Is(err, ledger.ErrLockNotObtained), errors.Is(err, ledger.ErrPersistence):
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("ledger unavailable")
		writeError(w, http.StatusServiceUnavailable, "unavailable", "Ledger storage unavailable", nil)
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled ledger error")
		writeError(w, http.StatusInternalServerError, "internal", "Internal error", nil)
	}
}
