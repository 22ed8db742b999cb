/*
server.go - HTTP router and middleware configuration

PURPOSE:

	Configures the HTTP router (chi), middleware stack, and route definitions.
	This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
 1. RealIP, RequestID: Client address and per-request id
 2. Request log:       One zerolog line per request
 3. Recoverer:         Panic recovery (500 instead of crash)
 4. Metrics:           Request count and duration per route pattern
 5. Secure headers:    unrolled/secure
 6. CORS:              go-chi/cors
 7. Rate limit:        go-chi/httprate, per client IP (API routes only)

ROUTE GROUPS:

	/healthz, /metrics    Operations
	/api/locations/*      Stock and pending receipts
	/api/partners/*       Partner balances
	/api/transactions/*   History, confirm, cancel
	/api/batches/*        Documents and batch confirmation
	/api/maintenance/*    Maintenance and conversion
	/api/admin/*          Adjustments, reconciliation, drift
	/api/scenarios/*      Demo scenarios (when enabled)

SECURITY NOTE:

	No authentication middleware. The acting user is taken from the request
	body or the X-Actor header and recorded for audit only.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"
	"github.com/warp/pallet-ledger/metrics"
)

// RouterOptions configures the cross-cutting middleware.
type RouterOptions struct {
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	CORSOrigins []string
	// RateLimit is requests per minute per client IP. Zero disables limiting.
	RateLimit  int
	Production bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !opts.Production,
	})

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(opts.Metrics.Middleware)
	r.Use(secureMiddleware.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Actor", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", opts.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(httprate.Limit(opts.RateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests", nil)
				}),
			))
		}

		r.Route("/locations", func(r chi.Router) {
			r.Get("/", h.ListLocations)
			r.Get("/{id}/stock", h.GetStock)
			r.Get("/{id}/pending", h.GetPending)
		})

		r.Get("/partners/{id}/balance", h.GetBalance)

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/{id}/confirm", h.ConfirmTransaction)
			r.Delete("/{id}", h.CancelTransaction)
		})

		r.Route("/batches", func(r chi.Router) {
			r.Post("/confirm", h.ConfirmBatch)
			r.Get("/{doc}", h.GetBatch)
		})

		r.Post("/movements", h.CreateMovement)
		r.Post("/scan", h.Scan)

		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/", h.SendToMaintenance)
			r.Post("/convert", h.ConvertMaintenance)
		})
		r.Post("/scrap-sales", h.RecordScrapSale)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)
			r.Post("/reconcile", h.Reconcile)
			r.Get("/drift", h.GetDrift)
		})

		if h.Scenarios != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}

// requestLogger writes one structured line per request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			event := logger.Info()
			if status >= http.StatusInternalServerError {
				event = logger.Error()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
