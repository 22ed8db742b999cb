package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pallet-ledger/ledger"
)

func TestGetBalance_ProviderDeliveryIsRedispatched(t *testing.T) {
	// GIVEN: CHEP delivers 60 pallets to the central hub
	s := setupTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/movements", MovementRequest{
		Category:    "IN",
		Source:      "chep",
		Destination: "hub-central",
		Items:       []ItemRequest{{PalletType: "chep-blue", Quantity: 60}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	batch := decodeBody[ledger.Batch](t, rec)

	// THEN: the delivery completed and was forwarded to North, pending receipt
	assert.Equal(t, ledger.StatusCompleted, batch.Status)
	require.NotNil(t, batch.Cascade)
	assert.Equal(t, ledger.StatusPending, batch.Cascade.Status)
	assert.Len(t, s.ledger.PendingFor("branch-north"), 1)
	assert.Equal(t, 0, s.ledger.Stock("hub-central")["chep-blue"])

	// AND: we owe CHEP 60, listed for the only type CHEP exchanges
	rec = s.do(t, http.MethodGet, "/api/partners/chep/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []BalanceDTO{{Partner: "chep", Role: "provider", PalletType: "chep-blue", Balance: 60}},
		decodeBody[[]BalanceDTO](t, rec))
}

func TestGetBalance_ProviderRoundTripIsZero(t *testing.T) {
	// GIVEN: LPR delivers 25 euro pallets to South and later takes 25 back
	s := setupTestServer(t)
	for _, req := range []MovementRequest{
		{Category: "IN", Source: "lpr", Destination: "branch-south", Items: []ItemRequest{{PalletType: "euro-wood", Quantity: 25}}},
		{Category: "OUT", Source: "branch-south", Destination: "lpr", Items: []ItemRequest{{PalletType: "euro-wood", Quantity: 25}}},
	} {
		rec := s.do(t, http.MethodPost, "/api/movements", req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	// THEN: the balance is settled
	rec := s.do(t, http.MethodGet, "/api/partners/lpr/balance?palletType=euro-wood", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[[]BalanceDTO](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Balance)
}

func TestGetBalance_Customer(t *testing.T) {
	// GIVEN: North ships 20 euro pallets to a customer
	s := setupTestServer(t)
	s.seed(t, ledger.Stock{"branch-north": {"euro-wood": 50}})
	rec := s.do(t, http.MethodPost, "/api/movements", MovementRequest{
		Category:    "OUT",
		Source:      "branch-north",
		Destination: "retail-co",
		Items:       []ItemRequest{{PalletType: "euro-wood", Quantity: 20}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, ledger.StatusCompleted, decodeBody[ledger.Batch](t, rec).Status)

	// THEN: the customer holds 20 of ours and nothing of the other allowed type
	rec = s.do(t, http.MethodGet, "/api/partners/retail-co/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []BalanceDTO{
		{Partner: "retail-co", Role: "customer", PalletType: "euro-wood", Balance: 20},
		{Partner: "retail-co", Role: "customer", PalletType: "generic", Balance: 0},
	}, decodeBody[[]BalanceDTO](t, rec))
}

func TestGetBalance_UnknownPartner(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/partners/branch-north/balance", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
