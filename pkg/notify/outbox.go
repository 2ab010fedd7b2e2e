package notify

import (
	"context"
	"log/slog"

	"litshelf/pkg/queue"
)

// Outbox enqueues intents on a Redis stream for a background deliverer.
type Outbox struct {
	queue *queue.RedisOutbox
}

func NewOutbox(q *queue.RedisOutbox) *Outbox {
	return &Outbox{queue: q}
}

func (o *Outbox) Notify(ctx context.Context, intent Intent) error {
	_, err := o.queue.Enqueue(ctx, queue.Message{
		ID:        intent.ID,
		Recipient: intent.Recipient,
		Kind:      string(intent.Kind),
		Text:      intent.Text,
	})
	return err
}

// StartDelivery consumes the outbox with concurrency workers, sending each
// message through sender. Exhausted retries are logged and dropped.
func (o *Outbox) StartDelivery(ctx context.Context, concurrency int, sender Sender, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	o.queue.Start(ctx, concurrency, func(ctx context.Context, msg queue.Message) error {
		if err := sender.Send(ctx, msg.Recipient, msg.Text); err != nil {
			logger.Warn("outbox delivery attempt failed", "intent_id", msg.ID, "recipient", msg.Recipient, "err", err)
			return err
		}
		return nil
	})
}

// Close releases the outbox's Redis connection.
func (o *Outbox) Close() error {
	return o.queue.Close()
}
