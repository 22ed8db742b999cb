package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/warp/pallet-ledger/catalog"
	"github.com/warp/pallet-ledger/ledger"
	"github.com/warp/pallet-ledger/ledger/store"
	"github.com/warp/pallet-ledger/metrics"
)

var fixedNow = time.Date(2026, time.April, 7, 8, 30, 0, 0, time.UTC)

type testServer struct {
	ledger  *ledger.Ledger
	gateway *store.Memory
	handler *Handler
	metrics *metrics.Metrics
	router  *chi.Mux
}

// setupTestServer wires the demo catalog, an in-memory gateway and the full
// router. Options may tweak the router before it is built.
func setupTestServer(t *testing.T, mutate ...func(*RouterOptions)) *testServer {
	t.Helper()
	gw := store.NewMemory()
	cat, rules := catalog.Demo()
	m := metrics.New(false)

	l := ledger.New(gw, cat, ledger.Options{
		Rules:          rules,
		Observer:       m,
		Logger:         zerolog.Nop(),
		Clock:          func() time.Time { return fixedNow },
		DefaultChannel: "ops",
	})
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(l.Close)

	h := NewHandler(l, cat, zerolog.Nop())
	h.Scenarios = NewScenarioLoader(l, gw)

	opts := RouterOptions{Logger: zerolog.Nop(), Metrics: m}
	for _, fn := range mutate {
		fn(&opts)
	}
	return &testServer{ledger: l, gateway: gw, handler: h, metrics: m, router: NewRouter(h, opts)}
}

// do sends a request through the router. body is JSON-encoded unless nil.
func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "tester")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// seed records opening balances through the adjustment endpoint.
func (s *testServer) seed(t *testing.T, stock ledger.Stock) {
	t.Helper()
	for loc, row := range stock {
		for pt, qty := range row {
			rec := s.do(t, http.MethodPost, "/api/admin/adjustments", AdjustmentRequest{
				Target:      string(loc),
				PalletType:  string(pt),
				NewQuantity: qty,
				Reason:      "opening balance count",
				Actor:       "tester",
				IsInitial:   true,
			})
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		}
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
