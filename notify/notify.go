/*
Package notify delivers ledger notifications to operations chat channels.

PURPOSE:

	The ledger sends one short message per committed movement, confirmation,
	adjustment or scrap sale. Delivery is best effort: a failed notification
	never rolls back a commit.

IMPLEMENTATIONS:
  - LogNotifier:     writes the message to the log (development)
  - WebhookNotifier: POSTs to a chat webhook
  - QueueNotifier:   enqueues an asynq task; Worker delivers it later,
    with retries, through a WebhookNotifier

SEE ALSO:
  - ledger/gateway.go: The ledger.Notifier interface
  - cmd/worker: Process running the Worker
*/
package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/warp/pallet-ledger/ledger"
)

// LogNotifier logs each message at info level.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, channel, message string) error {
	n.log.Info().Str("channel", channel).Msg(message)
	return nil
}

var _ ledger.Notifier = (*LogNotifier)(nil)
