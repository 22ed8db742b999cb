// Command worker drains the notification queue filled by servers running
// with LEDGER_NOTIFIER=queue and delivers each message to the webhook, or to
// the log when no webhook is configured.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/warp/pallet-ledger/config"
	"github.com/warp/pallet-ledger/ledger"
	"github.com/warp/pallet-ledger/logger"
	"github.com/warp/pallet-ledger/notify"
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

	var delivery ledger.Notifier = notify.NewLogNotifier(log)
	if cfg.WebhookURL != "" {
		delivery = notify.NewWebhookNotifier(cfg.WebhookURL, nil)
	} else {
		log.Warn().Msg("LEDGER_WEBHOOK_URL not set, notifications will only be logged")
	}

	worker, err := notify.NewWorker(notify.WorkerConfig{
		Redis:       asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.WorkerThreads,
		Handler:     notify.NewHandler(delivery, log),
		Logger:      log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build worker")
	}

	if err := worker.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("worker failed")
	}
}
