package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/warp/pallet-ledger/ledger"
)

const (
	// QueueNotifications is the asynq queue carrying notification tasks.
	QueueNotifications = "notifications"
	// TaskTypeNotify is the task type for one chat message.
	TaskTypeNotify = "ledger:notify"
)

// NotifyPayload is the task payload.
type NotifyPayload struct {
	Channel  string    `json:"channel"`
	Message  string    `json:"message"`
	QueuedAt time.Time `json:"queuedAt"`
}

// NewNotifyTask builds an asynq task for one message.
func NewNotifyTask(channel, message string, queuedAt time.Time) (*asynq.Task, error) {
	if channel == "" {
		return nil, errors.New("notify task: channel is required")
	}
	data, err := json.Marshal(NotifyPayload{Channel: channel, Message: message, QueuedAt: queuedAt})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotify, data), nil
}

// =============================================================================
// PRODUCER
// =============================================================================

// Enqueuer is the subset of *asynq.Client the notifier needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier hands messages to the worker instead of delivering inline.
type QueueNotifier struct {
	client    Enqueuer
	maxRetry  int
	retention time.Duration
	now       func() time.Time
}

// NewQueueNotifier enqueues with maxRetry attempts. Completed tasks are kept
// for retention so operators can inspect recent deliveries.
func NewQueueNotifier(client Enqueuer, maxRetry int, retention time.Duration) *QueueNotifier {
	return &QueueNotifier{client: client, maxRetry: maxRetry, retention: retention, now: time.Now}
}

func (n *QueueNotifier) Notify(ctx context.Context, channel, message string) error {
	task, err := NewNotifyTask(channel, message, n.now().UTC())
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.Queue(QueueNotifications), asynq.MaxRetry(n.maxRetry)}
	if n.retention > 0 {
		opts = append(opts, asynq.Retention(n.retention))
	}
	if _, err := n.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue notification for %s: %w", channel, err)
	}
	return nil
}

var _ ledger.Notifier = (*QueueNotifier)(nil)

// =============================================================================
// CONSUMER
// =============================================================================

// Handler delivers queued notifications through a downstream notifier.
type Handler struct {
	delivery ledger.Notifier
	log      zerolog.Logger
}

func NewHandler(delivery ledger.Notifier, logger zerolog.Logger) *Handler {
	return &Handler{delivery: delivery, log: logger.With().Str("component", "notify_worker").Logger()}
}

// ProcessTask fulfils the asynq.Handler contract. Undecodable payloads are
// dropped with SkipRetry; delivery errors are returned so asynq retries.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload NotifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		h.log.Error().Err(err).Msg("dropping undecodable notification task")
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Channel == "" {
		h.log.Error().Msg("dropping notification task without channel")
		return fmt.Errorf("missing channel: %w", asynq.SkipRetry)
	}

	if err := h.delivery.Notify(ctx, payload.Channel, payload.Message); err != nil {
		h.log.Warn().Err(err).Str("channel", payload.Channel).Msg("notification delivery failed")
		return err
	}
	h.log.Debug().Str("channel", payload.Channel).
		Dur("queued_for", time.Since(payload.QueuedAt)).
		Msg("notification delivered")
	return nil
}

// Worker wraps the asynq server that drains the notification queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    zerolog.Logger
}

// WorkerConfig collects what the worker needs to start.
type WorkerConfig struct {
	Redis       asynq.RedisConnOpt
	Concurrency int
	Handler     *Handler
	Logger      zerolog.Logger
}

func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Handler == nil {
		return nil, errors.New("notify worker: handler is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	srv := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{QueueNotifications: 1},
	})
	mux := asynq.NewServeMux()
	mux.Handle(TaskTypeNotify, cfg.Handler)
	return &Worker{server: srv, mux: mux, log: cfg.Logger}, nil
}

// Run processes tasks until ctx is cancelled. The server is started rather
// than run so shutdown follows ctx instead of asynq's own signal handling.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start notification worker: %w", err)
	}
	w.log.Info().Str("queue", QueueNotifications).Msg("notification worker started")

	<-ctx.Done()
	w.server.Shutdown()
	w.log.Info().Msg("notification worker stopped")
	return nil
}
