/*
main.go - Application entry point

PURPOSE:

	Initializes and starts the pallet ledger HTTP server.
	Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
 1. Load configuration (.env, then LEDGER_* environment)
 2. Build the logger and load the catalog
 3. Open the configured store (memory, sqlite, postgres, redis)
 4. Pick the notifier (log, webhook, queue)
 5. Start the ledger, the drift scheduler and the HTTP server

GRACEFUL SHUTDOWN:

	On SIGINT/SIGTERM:
	1. Stop accepting new connections
	2. Wait for active requests to complete (LEDGER_SHUTDOWN_TIMEOUT)
	3. Stop the drift scheduler and store listeners
	4. Close store connections

EXAMPLES:

	# Development, demo catalog, in-memory store
	./server

	# Shared SQLite file
	LEDGER_STORE=sqlite LEDGER_SQLITE_PATH=/var/lib/pallets.db ./server

	# Several instances on Postgres with queued notifications
	LEDGER_STORE=postgres LEDGER_POSTGRES_DSN=postgres://... \
	LEDGER_NOTIFIER=queue LEDGER_REDIS_ADDR=redis:6379 ./server

SEE ALSO:
  - config/config.go: Every setting and its default
  - api/server.go: Router configuration
  - cmd/worker/main.go: Notification delivery for LEDGER_NOTIFIER=queue
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/warp/pallet-ledger/api"
	"github.com/warp/pallet-ledger/catalog"
	"github.com/warp/pallet-ledger/config"
	"github.com/warp/pallet-ledger/ledger"
	"github.com/warp/pallet-ledger/ledger/store"
	"github.com/warp/pallet-ledger/logger"
	"github.com/warp/pallet-ledger/metrics"
	"github.com/warp/pallet-ledger/notify"
	"github.com/warp/pallet-ledger/store/postgres"
	"github.com/warp/pallet-ledger/store/redisstore"
	"github.com/warp/pallet-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.Env, Level: cfg.LogLevel})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

// backend is everything the chosen store contributes.
type backend struct {
	gateway  ledger.Gateway
	resetter api.Resetter
	counter  ledger.Counter
	lock     ledger.WriterLock
	// follow keeps the local views in step with other processes until ctx ends.
	follow func(ctx context.Context) error
	close  func()
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	cat, rules, err := loadCatalog(cfg, log)
	if err != nil {
		return err
	}

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	notifier, closeNotifier, err := buildNotifier(cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	m := metrics.New(true)

	l := ledger.New(be.gateway, cat, ledger.Options{
		Rules:                   rules,
		Counter:                 be.counter,
		Lock:                    be.lock,
		Notifier:                notifier,
		Observer:                m,
		Logger:                  log,
		MinReasonLength:         cfg.MinReasonLength,
		MaxWriteAttempts:        cfg.MaxWriteAttempts,
		SkipReconciliationAudit: cfg.SkipReconciliationAudit,
		DefaultChannel:          cfg.DefaultChannel,
		DocumentTimezone:        cfg.Location(),
	})
	if err := l.Start(ctx); err != nil {
		return fmt.Errorf("start ledger: %w", err)
	}
	defer l.Close()

	handler := api.NewHandler(l, cat, log)
	if cfg.Scenarios && !cfg.IsProduction() {
		handler.Scenarios = api.NewScenarioLoader(l, be.resetter)
	}
	router := api.NewRouter(handler, api.RouterOptions{
		Logger:      log,
		Metrics:     m,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit,
		Production:  cfg.IsProduction(),
	})

	scheduler := api.NewDriftScheduler(l, m, log)
	scheduler.CheckInterval = cfg.DriftInterval
	scheduler.AutoReconcile = cfg.DriftAutoReconcile
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Str("notifier", cfg.Notifier).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if be.follow != nil {
		g.Go(func() error { return be.follow(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadCatalog reads the configured catalog file. A missing file falls back to
// the demo catalog outside production.
func loadCatalog(cfg *config.Config, log zerolog.Logger) (*catalog.Catalog, ledger.Rules, error) {
	if _, err := os.Stat(cfg.CatalogFile); errors.Is(err, os.ErrNotExist) && !cfg.IsProduction() {
		log.Warn().Str("file", cfg.CatalogFile).Msg("catalog file not found, using demo catalog")
		cat, rules := catalog.Demo()
		return cat, rules, nil
	}
	cat, rules, err := catalog.LoadFile(cfg.CatalogFile)
	if err != nil {
		return nil, ledger.Rules{}, err
	}
	log.Info().
		Str("file", cfg.CatalogFile).
		Int("locations", len(cat.Locations())).
		Int("partners", len(cat.Partners())).
		Msg("catalog loaded")
	return cat, rules, nil
}

func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return &backend{
			gateway:  s,
			resetter: s,
			counter:  s,
			follow: func(ctx context.Context) error {
				s.Watch(ctx, cfg.WatchEvery)
				return nil
			},
			close: func() { _ = s.Close() },
		}, nil

	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN, cfg.PostgresMax)
		if err != nil {
			return nil, err
		}
		s := postgres.New(pool, log)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &backend{
			gateway:  s,
			resetter: s,
			counter:  s,
			follow:   s.Listen,
			close:    pool.Close,
		}, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		gw := redisstore.NewGateway(client, cfg.RedisPrefix, log)
		return &backend{
			gateway:  gw,
			resetter: gw,
			counter:  redisstore.NewCounter(client, cfg.RedisPrefix, 48*time.Hour),
			lock:     redisstore.NewLocker(client, cfg.RedisPrefix, 10*time.Second, 50, 100*time.Millisecond),
			follow:   gw.Listen,
			close:    func() { _ = client.Close() },
		}, nil

	default:
		m := store.NewMemory()
		return &backend{gateway: m, resetter: m, close: func() {}}, nil
	}
}

func buildNotifier(cfg *config.Config, log zerolog.Logger) (ledger.Notifier, func(), error) {
	switch cfg.Notifier {
	case config.NotifierWebhook:
		return notify.NewWebhookNotifier(cfg.WebhookURL, nil), func() {}, nil
	case config.NotifierQueue:
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		return notify.NewQueueNotifier(client, cfg.NotifyRetries, cfg.NotifyRetain), func() { _ = client.Close() }, nil
	default:
		return notify.NewLogNotifier(log), func() {}, nil
	}
}
