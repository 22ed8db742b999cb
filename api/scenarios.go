/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that reset the ledger and replay a short,
	realistic sequence of operations against the demo catalog
	(catalog.Demo). Everything goes through the public ledger API, so a
	loaded scenario exercises the same validation, numbering and
	notification paths as live traffic.

AVAILABLE SCENARIOS:

	opening-balances:      Initial counts at every location plus the CHEP balance
	inter-branch-transfer: North ships to South, receipt still pending
	short-receipt:         Transfer confirmed with a quantity correction
	hub-redispatch:        CHEP delivery to the hub is forwarded to North
	maintenance-cycle:     Damaged pallets repaired, scrapped and sold

HOW SCENARIOS WORK:
 1. Reset the gateway (stock, history and document counters)
 2. Seed opening balances with initial adjustments
 3. Replay the scenario's movements and confirmations

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "short-receipt"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Write a loader: func(ctx context.Context, l *ledger.Ledger) error
 3. Register it in 'loaders'

NOTE:

	Scenarios wipe the ledger. The server only mounts them when
	LEDGER_SCENARIOS is enabled and never in production.

SEE ALSO:
  - catalog/demo.go: Locations, partners and rules the scenarios rely on
  - handlers.go: Shared JSON helpers
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/pallet-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "opening-balances",
		Name:        "Opening Balances",
		Description: "Initial stock counts at every location and an opening CHEP balance",
		Category:    "setup",
	},
	{
		ID:          "inter-branch-transfer",
		Name:        "Inter-Branch Transfer",
		Description: "North ships euro and generic pallets to South; the receipt is pending",
		Category:    "movements",
	},
	{
		ID:          "short-receipt",
		Name:        "Short Receipt",
		Description: "South confirms a transfer but counts four pallets fewer than declared",
		Category:    "movements",
	},
	{
		ID:          "hub-redispatch",
		Name:        "Hub Redispatch",
		Description: "CHEP delivers to the central hub and the pallets are forwarded to North",
		Category:    "movements",
	},
	{
		ID:          "maintenance-cycle",
		Name:        "Maintenance Cycle",
		Description: "Damaged pallets are sent to maintenance, partly repaired and the rest sold as scrap",
		Category:    "maintenance",
	},
}

const scenarioActor = "scenario-loader"

// Resetter empties a gateway. Every store implementation provides it.
type Resetter interface {
	Reset(ctx context.Context) error
}

type scenarioFunc func(ctx context.Context, l *ledger.Ledger) error

var loaders = map[string]scenarioFunc{
	"opening-balances":      loadOpeningBalances,
	"inter-branch-transfer": loadInterBranchTransfer,
	"short-receipt":         loadShortReceipt,
	"hub-redispatch":        loadHubRedispatch,
	"maintenance-cycle":     loadMaintenanceCycle,
}

// ScenarioLoader resets the store and replays a named scenario.
type ScenarioLoader struct {
	ledger *ledger.Ledger
	store  Resetter

	mu      sync.Mutex
	current string
}

func NewScenarioLoader(l *ledger.Ledger, store Resetter) *ScenarioLoader {
	return &ScenarioLoader{ledger: l, store: store}
}

// List returns the available scenarios in display order.
func (s *ScenarioLoader) List() []ScenarioDTO {
	out := make([]ScenarioDTO, len(scenarios))
	copy(out, scenarios)
	return out
}

// Current returns the last successfully loaded scenario.
func (s *ScenarioLoader) Current() (ScenarioDTO, bool) {
	s.mu.Lock()
	id := s.current
	s.mu.Unlock()
	for _, sc := range scenarios {
		if sc.ID == id {
			return sc, true
		}
	}
	return ScenarioDTO{}, false
}

// Load resets the store and runs the scenario. Loads are serialized.
func (s *ScenarioLoader) Load(ctx context.Context, id string) error {
	load, ok := loaders[id]
	if !ok {
		return fmt.Errorf("unknown scenario %q: %w", id, ledger.ErrNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	s.current = ""
	if err := load(ctx, s.ledger); err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}
	s.current = id
	return nil
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Scenarios.List())
}

// GetCurrentScenario returns the currently loaded scenario, or null.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.Scenarios.Current()
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// LoadScenario resets the ledger and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Scenarios.Load(r.Context(), req.ScenarioID); err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.log.Info().Str("scenario", req.ScenarioID).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadOpeningBalances(ctx context.Context, l *ledger.Ledger) error {
	counts := []struct {
		target ledger.LocationID
		pt     ledger.PalletTypeID
		qty    int
	}{
		{"branch-north", "euro-wood", 120},
		{"branch-north", "generic", 40},
		{"branch-north", "chep-blue", 30},
		{"branch-south", "euro-wood", 60},
		{"branch-south", "generic", 15},
		{"hub-central", "chep-blue", 80},
		{"hub-central", "euro-wood", 25},
		// 110 CHEP pallets on loan to us.
		{"chep", "chep-blue", 110},
	}
	for _, c := range counts {
		if _, err := l.AdjustStock(ctx, ledger.AdjustInput{
			Target:      c.target,
			PalletType:  c.pt,
			NewQuantity: c.qty,
			Reason:      "Opening balance from physical count",
			Actor:       scenarioActor,
			IsInitial:   true,
		}); err != nil {
			return err
		}
	}
	return nil
}

func loadInterBranchTransfer(ctx context.Context, l *ledger.Ledger) error {
	if err := loadOpeningBalances(ctx, l); err != nil {
		return err
	}
	_, err := l.CreateMovement(ctx, ledger.MovementInput{
		Category:    ledger.CategoryOut,
		Source:      "branch-north",
		Destination: "branch-south",
		Items: []ledger.MovementItem{
			{PalletType: "euro-wood", Quantity: 40},
			{PalletType: "generic", Quantity: 10},
		},
		Note:      "Weekly rebalancing",
		Transport: &ledger.Transport{Carrier: "Nordfrakt", Driver: "J. Berg", Plate: "AB-123-CD"},
		Actor:     scenarioActor,
	})
	return err
}

func loadShortReceipt(ctx context.Context, l *ledger.Ledger) error {
	if err := loadOpeningBalances(ctx, l); err != nil {
		return err
	}
	batch, err := l.CreateMovement(ctx, ledger.MovementInput{
		Category:    ledger.CategoryOut,
		Source:      "branch-north",
		Destination: "branch-south",
		Items:       []ledger.MovementItem{{PalletType: "euro-wood", Quantity: 50}},
		Note:        "Transfer for seasonal peak",
		Actor:       scenarioActor,
	})
	if err != nil {
		return err
	}
	tx := batch.Transactions[0]
	return l.ConfirmBatch(ctx, ledger.ConfirmInput{
		TransactionIDs: []ledger.TransactionID{tx.ID},
		Corrections:    []ledger.Correction{{TransactionID: tx.ID, Quantity: 46}},
		Actor:          "south-receiving",
	})
}

func loadHubRedispatch(ctx context.Context, l *ledger.Ledger) error {
	if err := loadOpeningBalances(ctx, l); err != nil {
		return err
	}
	_, err := l.CreateMovement(ctx, ledger.MovementInput{
		Category:          ledger.CategoryIn,
		Source:            "chep",
		Destination:       "hub-central",
		Items:             []ledger.MovementItem{{PalletType: "chep-blue", Quantity: 60}},
		ReferenceDocument: "CHEP-DN-88412",
		Actor:             scenarioActor,
	})
	return err
}

func loadMaintenanceCycle(ctx context.Context, l *ledger.Ledger) error {
	if err := loadOpeningBalances(ctx, l); err != nil {
		return err
	}
	if _, err := l.SendToMaintenance(ctx, ledger.MaintenanceInput{
		Branch: "branch-north",
		Items:  []ledger.MovementItem{{PalletType: "euro-wood", Quantity: 12}},
		Note:   "Broken deck boards",
		Actor:  scenarioActor,
	}); err != nil {
		return err
	}
	if _, err := l.ConvertMaintenance(ctx, ledger.ConversionInput{
		Branch:           "branch-north",
		DamagedType:      "euro-wood",
		Quantity:         12,
		Converted:        8,
		TargetPalletType: "generic",
		Note:             "Repaired with generic boards",
		Actor:            scenarioActor,
	}); err != nil {
		return err
	}
	_, err := l.RecordScrapSale(ctx, ledger.ScrapSaleInput{
		PalletType: "euro-wood",
		Quantity:   4,
		Buyer:      "Holz Recycling",
		UnitPrice:  decimal.RequireFromString("1.75"),
		Actor:      scenarioActor,
	})
	return err
}
